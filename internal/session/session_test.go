package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"spendlog/internal/backend"
	"spendlog/internal/core"
	"spendlog/internal/inference"
	"spendlog/internal/ledger"
	"spendlog/internal/notify"
	"spendlog/internal/persist/cloud"
	"spendlog/internal/persist/memory"
	"spendlog/internal/reconcile"
)

var fixedNow = time.Date(2024, 8, 5, 9, 30, 0, 0, time.UTC)

func localManager(t *testing.T, opts ...Option) (*Manager, *memory.Store) {
	t.Helper()
	docs := memory.New(memory.WithDemoSeed())
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	m := NewManager(&backend.BackendResult{Mode: backend.ModeLocalMock, Backend: docs}, opts...)
	t.Cleanup(func() { m.CloseAll(context.Background()) })
	return m, docs
}

func flush(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Store().Flush(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestOpenReusesSession(t *testing.T) {
	m, _ := localManager(t)
	ctx := context.Background()

	a, err := m.Open(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Open(ctx, " u1 ")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected the same session for the same user")
	}
	if a.Listener().State() != reconcile.StateLoaded || a.Store().Snapshot() == nil {
		t.Fatalf("expected loaded ledger, state=%s", a.Listener().State())
	}
	if got, ok := m.Get("u1"); !ok || got != a {
		t.Fatal("Get must return the open session")
	}
	if _, err := m.Open(ctx, ""); !errors.Is(err, ErrEmptyUser) {
		t.Fatalf("expected ErrEmptyUser, got %v", err)
	}
}

func TestConcurrentOpenSharesSession(t *testing.T) {
	m, _ := localManager(t)
	var wg sync.WaitGroup
	got := make([]*Session, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Open(context.Background(), "u1")
			if err != nil {
				t.Error(err)
			}
			got[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range got[1:] {
		if s != got[0] {
			t.Fatal("expected a single session")
		}
	}
	if m.Len() != 1 {
		t.Fatalf("expected one session, got %d", m.Len())
	}
}

func TestCloseFlushesAndForgets(t *testing.T) {
	m, docs := localManager(t)
	s, _ := m.Open(context.Background(), "u1")
	if _, err := s.Store().AddCategory(core.CategoryInput{Name: "Musei"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Close("u1"); err != nil {
		t.Fatal(err)
	}
	stored, err := docs.Fetch(context.Background(), "u1")
	if err != nil || !stored.HasCategoryName("Musei") {
		t.Fatalf("expected pending save written on close, err=%v", err)
	}
	if _, ok := m.Get("u1"); ok {
		t.Fatal("closed session must be forgotten")
	}
	if err := m.Close("u1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestCloseAllRefusesNewSessions(t *testing.T) {
	m, _ := localManager(t)
	m.Open(context.Background(), "u1")
	m.Open(context.Background(), "u2")
	if err := m.CloseAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Fatal("expected no sessions after CloseAll")
	}
	if _, err := m.Open(context.Background(), "u3"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloudSessionSubscribes(t *testing.T) {
	docs := memory.New()
	broker := cloud.NewLocalBroker()
	live := cloud.New(docs, broker, nil)
	m := NewManager(&backend.BackendResult{Mode: backend.ModeCloud, Backend: live, Live: live})
	defer m.CloseAll(context.Background())

	s, err := m.Open(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Listener().State() != reconcile.StateSynced {
		t.Fatalf("expected synced, got %s", s.Listener().State())
	}
	if broker.Subscribers("u1") != 1 {
		t.Fatal("expected an open feed")
	}
	m.Close("u1")
	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers("u1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("feed not released on logout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQuickExpenseRecordsSuggestion(t *testing.T) {
	var seen inference.Request
	inf := inference.Func(func(_ context.Context, req inference.Request) (inference.Suggestion, error) {
		seen = req
		return inference.Suggestion{Amount: 80, Currency: "thb", Category: "Cibo"}, nil
	})
	m, _ := localManager(t, WithInferrer(inf))
	s, _ := m.Open(context.Background(), "u1")
	s.Notifications()

	e, err := s.QuickExpense(context.Background(), "mock-trip-1", "pad thai 80 baht")
	if err != nil {
		t.Fatal(err)
	}
	if e.Amount != 80 || e.Currency != "THB" || e.Category != "Cibo" {
		t.Fatalf("unexpected expense %+v", e)
	}
	if !e.Date.Equal(fixedNow) || e.Country != core.CountryForCurrency("THB") {
		t.Fatalf("expected today's date and currency country, got %+v", e)
	}
	if seen.MainCurrency != "EUR" || len(seen.Currencies) != 3 || !seen.Today.Equal(fixedNow) {
		t.Fatalf("unexpected request %+v", seen)
	}

	flush(t, s)
	got := s.Notifications()
	if len(got) != 1 || got[0].Message != ledger.MsgExpenseAdded {
		t.Fatalf("unexpected notifications %+v", got)
	}
}

func TestQuickExpenseFailures(t *testing.T) {
	tests := []struct {
		name    string
		answer  inference.Suggestion
		err     error
		wantMsg string
	}{
		{"collaborator error", inference.Suggestion{}, errors.New("quota exceeded"), "Impossibile aggiungere: quota exceeded"},
		{"currency outside trip", inference.Suggestion{Amount: 5, Currency: "JPY", Category: "Cibo"}, nil,
			`Impossibile aggiungere: Valuta "JPY" non valida per questo viaggio. Valute ammesse: EUR, THB, VND.`},
		{"unknown category", inference.Suggestion{Amount: 5, Currency: "EUR", Category: "Souvenir"}, nil,
			`Impossibile aggiungere: Categoria "Souvenir" non valida.`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf := inference.Func(func(context.Context, inference.Request) (inference.Suggestion, error) {
				return tt.answer, tt.err
			})
			m, _ := localManager(t, WithInferrer(inf))
			s, _ := m.Open(context.Background(), "u1")
			s.Notifications()
			before := s.Store().Snapshot()

			if _, err := s.QuickExpense(context.Background(), "mock-trip-1", "something"); err == nil {
				t.Fatal("expected an error")
			}
			if s.Store().Snapshot() != before {
				t.Fatal("failed quick expense must not mutate the ledger")
			}
			got := s.Notifications()
			if len(got) != 1 || got[0].Level != notify.LevelError || got[0].Message != tt.wantMsg {
				t.Fatalf("unexpected notifications %+v", got)
			}
		})
	}
}

func TestQuickExpensePreconditions(t *testing.T) {
	m, _ := localManager(t)
	s, _ := m.Open(context.Background(), "u1")
	if _, err := s.QuickExpense(context.Background(), "mock-trip-1", "x"); !errors.Is(err, inference.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	called := false
	inf := inference.Func(func(context.Context, inference.Request) (inference.Suggestion, error) {
		called = true
		return inference.Suggestion{}, nil
	})
	m2, _ := localManager(t, WithInferrer(inf))
	s2, _ := m2.Open(context.Background(), "u1")
	s2.Notifications()
	if _, err := s2.QuickExpense(context.Background(), "mock-trip-1", "  "); !errors.Is(err, inference.ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	if _, err := s2.QuickExpense(context.Background(), "nope", "caffè"); !errors.Is(err, core.ErrTripNotFound) {
		t.Fatalf("expected ErrTripNotFound, got %v", err)
	}
	if called {
		t.Fatal("collaborator must not be called when preconditions fail")
	}
	for _, n := range s2.Notifications() {
		if strings.HasPrefix(n.Message, quickExpenseFailed) {
			t.Fatalf("precondition failures must not notify: %+v", n)
		}
	}
}
