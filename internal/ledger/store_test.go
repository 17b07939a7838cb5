package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/notify"
	"spendlog/internal/persist"
)

type fakeBackend struct {
	mu       sync.Mutex
	doc      *core.Ledger
	saves    int
	saveErr  error
	fetchErr error

	// When gate is set, Save signals started and blocks until gate is closed.
	gate    chan struct{}
	started chan struct{}
	// When hang is set, Save blocks until its context is done.
	hang bool
}

func (f *fakeBackend) Fetch(ctx context.Context, _ string) (*core.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.doc == nil {
		return nil, persist.ErrNotFound
	}
	return f.doc.Clone(), nil
}

func (f *fakeBackend) Save(ctx context.Context, _ string, l *core.Ledger) error {
	f.mu.Lock()
	gate, started, hang := f.gate, f.started, f.hang
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		f.mu.Lock()
		f.saves++
		f.mu.Unlock()
		return ctx.Err()
	}
	if gate != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.doc = l.Clone()
	return nil
}

func (f *fakeBackend) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeBackend) stored() *core.Ledger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Clone()
}

func day(d int) time.Time {
	return time.Date(2024, time.August, d, 0, 0, 0, 0, time.UTC)
}

func tripInput(name string) core.TripInput {
	return core.TripInput{
		Name:                name,
		StartDate:           day(1),
		EndDate:             day(20),
		TotalBudget:         2000,
		MainCurrency:        "EUR",
		PreferredCurrencies: []string{"JPY"},
	}
}

func expenseInput(amount float64, currency, category string) core.ExpenseInput {
	return core.ExpenseInput{Amount: amount, Currency: currency, Category: category, Date: day(3)}
}

func newLoadedStore(t *testing.T, backend *fakeBackend, l *core.Ledger) (*Store, *notify.Buffer) {
	t.Helper()
	buf := notify.NewBuffer(100)
	s := New("u1", backend, WithNotifier(buf))
	t.Cleanup(func() { s.Close() })
	s.Replace(l)
	return s, buf
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func messages(buf *notify.Buffer) []string {
	var out []string
	for _, n := range buf.Drain() {
		out = append(out, string(n.Level)+":"+n.Message)
	}
	return out
}

func TestMutationBeforeLoad(t *testing.T) {
	s := New("u1", &fakeBackend{})
	defer s.Close()
	if _, err := s.AddTrip(tripInput("Giappone")); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if s.Snapshot() != nil {
		t.Fatal("expected no snapshot before load")
	}
}

func TestAddTripAndExpensePersist(t *testing.T) {
	backend := &fakeBackend{}
	s, buf := newLoadedStore(t, backend, core.DefaultLedger())

	trip, err := s.AddTrip(tripInput("Giappone"))
	if err != nil {
		t.Fatal(err)
	}
	if trip.ID == "" || trip.Color == "" || len(trip.Expenses) != 0 {
		t.Fatalf("unexpected trip %+v", trip)
	}
	if got := strings.Join(trip.PreferredCurrencies, ","); got != "EUR,JPY" {
		t.Fatalf("expected main currency first in preferred set, got %s", got)
	}

	exp, err := s.AddExpense(trip.ID, expenseInput(1500, "jpy", "Cibo"))
	if err != nil {
		t.Fatal(err)
	}
	if exp.Currency != "JPY" || exp.Country != "Giappone" {
		t.Fatalf("expected normalized currency and inferred country, got %+v", exp)
	}

	snap := s.Snapshot()
	if len(snap.Trips) != 1 || len(snap.Trips[0].Expenses) != 1 {
		t.Fatalf("expected optimistic snapshot to include expense, got %+v", snap.Trips)
	}

	flush(t, s)
	stored := backend.stored()
	if len(stored.Trips) != 1 || len(stored.Trips[0].Expenses) != 1 {
		t.Fatalf("expected backend to hold the expense, got %+v", stored.Trips)
	}
	got := messages(buf)
	want := []string{"success:" + MsgTripCreated, "success:" + MsgExpenseAdded}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
}

func TestSnapshotsAreNotMutatedInPlace(t *testing.T) {
	s, _ := newLoadedStore(t, &fakeBackend{}, core.DefaultLedger())
	before := s.Snapshot()
	if _, err := s.AddTrip(tripInput("Islanda")); err != nil {
		t.Fatal(err)
	}
	if len(before.Trips) != 0 {
		t.Fatal("previous snapshot was modified")
	}
	if s.Snapshot() == before {
		t.Fatal("expected a new snapshot")
	}
}

// ledgerWithTransport builds two trips whose three expenses use a custom
// category named Trasporti.
func ledgerWithTransport() *core.Ledger {
	l := core.DefaultLedger()
	for i := range l.Categories {
		if l.Categories[i].ID == "cat-3" {
			l.Categories[i].Name = "Treni"
		}
	}
	l.Categories = append(l.Categories, core.Category{ID: "custom-cat-1", Name: "Trasporti", Icon: "🚌", Color: "#123456"})
	l.Trips = []core.Trip{
		{
			ID: "t1", Name: "Giappone", MainCurrency: "EUR", PreferredCurrencies: []string{"EUR", "JPY"},
			StartDate: day(1), EndDate: day(10), TotalBudget: 1000,
			Expenses: []core.Expense{
				{ID: "e1", Amount: 10, Currency: "EUR", Category: "Trasporti", Date: day(2)},
				{ID: "e2", Amount: 20, Currency: "EUR", Category: "Cibo", Date: day(2)},
				{ID: "e3", Amount: 30, Currency: "JPY", Category: "Trasporti", Date: day(3)},
			},
			CategoryBudgets: []core.CategoryBudget{{CategoryName: "Trasporti", Amount: 100}, {CategoryName: "Cibo", Amount: 200}},
		},
		{
			ID: "t2", Name: "Islanda", MainCurrency: "KRW", PreferredCurrencies: []string{"KRW"},
			StartDate: day(11), EndDate: day(20), TotalBudget: 1000,
			Expenses: []core.Expense{
				{ID: "e4", Amount: 5000, Currency: "KRW", Category: "Trasporti", Date: day(12)},
			},
			FrequentExpenses: []core.FrequentExpense{{ID: "f1", Name: "Bus", Category: "Trasporti", Amount: 500}},
		},
	}
	return l
}

func TestDeleteCategoryReassignsToFallback(t *testing.T) {
	backend := &fakeBackend{}
	s, _ := newLoadedStore(t, backend, ledgerWithTransport())

	if err := s.DeleteCategory("custom-cat-1"); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.HasCategoryName("Trasporti") {
		t.Fatal("category still present")
	}
	moved := 0
	for _, trip := range snap.Trips {
		for _, e := range trip.Expenses {
			if e.Category == "Trasporti" {
				t.Fatalf("expense %s still references deleted category", e.ID)
			}
			if e.Category == "Varie" {
				moved++
			}
		}
	}
	if moved != 3 {
		t.Fatalf("expected 3 expenses in Varie, got %d", moved)
	}
	if b := snap.Trips[0].CategoryBudgets; len(b) != 1 || b[0].CategoryName != "Cibo" {
		t.Fatalf("expected Trasporti budget dropped, got %+v", b)
	}
	if f := snap.Trips[1].FrequentExpenses[0]; f.Category != "Varie" {
		t.Fatalf("expected template reassigned, got %+v", f)
	}
}

func TestRenameCategoryRewritesReferences(t *testing.T) {
	s, _ := newLoadedStore(t, &fakeBackend{}, ledgerWithTransport())

	if _, err := s.UpdateCategory("cat-1", core.CategoryInput{Name: "Ristorazione", Icon: "🍝", Color: "#FF9800"}); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	for _, trip := range snap.Trips {
		for _, e := range trip.Expenses {
			if e.Category == "Cibo" {
				t.Fatalf("expense %s still references old name", e.ID)
			}
		}
	}
	if snap.Trips[0].Expenses[1].Category != "Ristorazione" {
		t.Fatalf("expected renamed category, got %q", snap.Trips[0].Expenses[1].Category)
	}
	if snap.Trips[0].CategoryBudgets[1].CategoryName != "Ristorazione" {
		t.Fatal("expected budget allocation renamed")
	}
	if !snap.HasCategoryName("Ristorazione") || snap.HasCategoryName("Cibo") {
		t.Fatal("expected category set renamed")
	}
}

func TestDeleteProtectedCategoryRejected(t *testing.T) {
	backend := &fakeBackend{}
	s, buf := newLoadedStore(t, backend, ledgerWithTransport())
	before := s.Snapshot()

	err := s.DeleteCategory("cat-3")
	if !errors.Is(err, core.ErrProtectedCategory) || !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected protected category validation error, got %v", err)
	}
	if s.Snapshot() != before {
		t.Fatal("snapshot changed after rejected mutation")
	}
	flush(t, s)
	if backend.saveCount() != 0 {
		t.Fatal("rejected mutation reached the backend")
	}
	if got := messages(buf); len(got) != 1 || got[0] != "error:"+MsgProtectedCategory {
		t.Fatalf("unexpected notifications %v", got)
	}
}

func TestDeleteCategoryWithoutFallback(t *testing.T) {
	buf := notify.NewBuffer(10)
	s := New("u1", &fakeBackend{}, WithNotifier(buf))
	defer s.Close()

	// Loaded documents always regain the defaults, so install the broken
	// snapshot directly.
	l := ledgerWithTransport()
	kept := l.Categories[:0]
	for _, c := range l.Categories {
		if c.ID != core.FallbackCategoryID {
			kept = append(kept, c)
		}
	}
	l.Categories = kept
	s.mu.Lock()
	s.snap = l
	s.mu.Unlock()

	if err := s.DeleteCategory("custom-cat-1"); !errors.Is(err, core.ErrFallbackMissing) {
		t.Fatalf("expected ErrFallbackMissing, got %v", err)
	}
	if s.Snapshot() != l {
		t.Fatal("snapshot changed after rejected mutation")
	}
	if got := messages(buf); len(got) != 1 || got[0] != "error:"+MsgFallbackMissing {
		t.Fatalf("unexpected notifications %v", got)
	}
}

func TestSaveFailureReconcilesWithBackend(t *testing.T) {
	stored := core.DefaultLedger()
	stored.Name = "server"
	backend := &fakeBackend{doc: stored, saveErr: errors.New("permission denied")}
	s, buf := newLoadedStore(t, backend, stored)

	if _, err := s.AddTrip(tripInput("Perù")); err != nil {
		t.Fatal(err)
	}
	if len(s.Snapshot().Trips) != 1 {
		t.Fatal("expected optimistic trip visible before save settles")
	}
	flush(t, s)

	snap := s.Snapshot()
	if len(snap.Trips) != 0 || snap.Name != "server" {
		t.Fatalf("expected backend state after reconciliation, got %+v", snap)
	}
	want := []string{"error:" + MsgSaveFailed, "success:" + MsgRefreshed}
	if got := messages(buf); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
}

func TestSaveTimeoutReconcilesOnFreshContext(t *testing.T) {
	stored := core.DefaultLedger()
	stored.Name = "server"
	backend := &fakeBackend{doc: stored, hang: true}
	buf := notify.NewBuffer(100)
	s := New("u1", backend, WithNotifier(buf), WithSaveTimeout(50*time.Millisecond))
	t.Cleanup(func() { s.Close() })
	s.Replace(stored)

	if _, err := s.AddTrip(tripInput("Laos")); err != nil {
		t.Fatal(err)
	}
	flush(t, s)

	snap := s.Snapshot()
	if len(snap.Trips) != len(backend.stored().Trips) || snap.Name != "server" {
		t.Fatalf("expected snapshot to match backend after timed out save, got %+v", snap)
	}
	want := []string{"error:" + MsgSaveFailed, "success:" + MsgRefreshed}
	if got := messages(buf); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
}

func TestSaveFailureDiscardsChangesQueuedBehindIt(t *testing.T) {
	stored := core.DefaultLedger()
	stored.Name = "server"
	backend := &fakeBackend{
		doc:     stored,
		saveErr: errors.New("permission denied"),
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	s, buf := newLoadedStore(t, backend, stored)

	if _, err := s.AddTrip(tripInput("Alfa")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-backend.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first save never started")
	}
	if _, err := s.AddTrip(tripInput("Beta")); err != nil {
		t.Fatal(err)
	}
	close(backend.gate)
	flush(t, s)

	if n := backend.saveCount(); n != 1 {
		t.Fatalf("expected only the rejected save, got %d saves", n)
	}
	if n := len(backend.stored().Trips); n != 0 {
		t.Fatalf("backend should hold neither trip, got %d", n)
	}
	snap := s.Snapshot()
	if len(snap.Trips) != 0 || snap.Name != "server" {
		t.Fatalf("expected backend state after reconciliation, got %+v", snap)
	}
	want := []string{"error:" + MsgSaveFailed, "success:" + MsgRefreshed}
	if got := messages(buf); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("notifications = %v, want %v", got, want)
	}

	// Later changes build on the reconciled snapshot and are saved normally.
	backend.mu.Lock()
	backend.saveErr = nil
	backend.mu.Unlock()
	if _, err := s.AddTrip(tripInput("Gamma")); err != nil {
		t.Fatal(err)
	}
	flush(t, s)
	if trips := backend.stored().Trips; len(trips) != 1 || trips[0].Name != "Gamma" {
		t.Fatalf("expected only the new trip saved, got %+v", trips)
	}
}

func TestSaveFailureWithMissingDocumentFallsBackToDefault(t *testing.T) {
	backend := &fakeBackend{saveErr: errors.New("quota exceeded")}
	l := core.DefaultLedger()
	l.Name = "local"
	s, _ := newLoadedStore(t, backend, l)

	if _, err := s.AddCategory(core.CategoryInput{Name: "Musei"}); err != nil {
		t.Fatal(err)
	}
	flush(t, s)
	snap := s.Snapshot()
	if snap.Name != "" || snap.HasCategoryName("Musei") || len(snap.Categories) != len(core.DefaultCategories()) {
		t.Fatalf("expected hollow default, got %+v", snap)
	}
}

func TestRefetchFailureKeepsSnapshot(t *testing.T) {
	backend := &fakeBackend{fetchErr: errors.New("offline")}
	l := core.DefaultLedger()
	l.Name = "kept"
	s, buf := newLoadedStore(t, backend, l)

	if err := s.Refetch(context.Background()); err == nil {
		t.Fatal("expected refetch error")
	}
	if s.Snapshot().Name != "kept" {
		t.Fatal("snapshot replaced after failed refetch")
	}
	if got := messages(buf); len(got) != 1 || got[0] != "error:"+MsgLoadFailed {
		t.Fatalf("unexpected notifications %v", got)
	}
}

func TestExpenseValidation(t *testing.T) {
	s, _ := newLoadedStore(t, &fakeBackend{}, ledgerWithTransport())
	only := tripInput("Solo euro")
	only.PreferredCurrencies = nil
	trip, err := s.AddTrip(only)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		tripID string
		in     core.ExpenseInput
		want   error
	}{
		{"non-preferred currency", trip.ID, expenseInput(10, "USD", "Cibo"), core.ErrCurrencyNotAllowed},
		{"unknown currency", trip.ID, expenseInput(10, "XXQ", "Cibo"), core.ErrInvalidCurrency},
		{"zero amount", trip.ID, expenseInput(0, "EUR", "Cibo"), core.ErrInvalidAmount},
		{"negative amount", trip.ID, expenseInput(-5, "EUR", "Cibo"), core.ErrInvalidAmount},
		{"unknown category", trip.ID, expenseInput(10, "EUR", "Spa"), core.ErrUnknownCategory},
		{"missing date", trip.ID, core.ExpenseInput{Amount: 1, Currency: "EUR", Category: "Cibo"}, core.ErrMissingDate},
		{"unknown trip", "nope", expenseInput(10, "EUR", "Cibo"), core.ErrTripNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := s.Snapshot()
			if _, err := s.AddExpense(tt.tripID, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if s.Snapshot() != before {
				t.Fatal("snapshot changed after rejected mutation")
			}
		})
	}
}

func TestUpdateAndDeleteExpense(t *testing.T) {
	backend := &fakeBackend{}
	s, _ := newLoadedStore(t, backend, ledgerWithTransport())

	e, err := s.UpdateExpense("t1", "e2", expenseInput(42, "JPY", "Shopping"))
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != "e2" || e.Amount != 42 || e.Category != "Shopping" {
		t.Fatalf("unexpected updated expense %+v", e)
	}
	if _, err := s.UpdateExpense("t1", "missing", expenseInput(1, "EUR", "Cibo")); !errors.Is(err, core.ErrExpenseNotFound) {
		t.Fatalf("expected ErrExpenseNotFound, got %v", err)
	}
	if err := s.DeleteExpense("t1", "e1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteExpense("t1", "e1"); !errors.Is(err, core.ErrExpenseNotFound) {
		t.Fatalf("expected ErrExpenseNotFound on second delete, got %v", err)
	}
	flush(t, s)
	if n := len(backend.stored().Trips[0].Expenses); n != 2 {
		t.Fatalf("expected 2 expenses stored, got %d", n)
	}
}

func TestUpdateTripKeepsExpenses(t *testing.T) {
	s, _ := newLoadedStore(t, &fakeBackend{}, ledgerWithTransport())
	in := tripInput("Giappone 2024")
	in.Color = "#ABCDEF"
	trip, err := s.UpdateTrip("t1", in)
	if err != nil {
		t.Fatal(err)
	}
	if trip.Name != "Giappone 2024" || len(trip.Expenses) != 3 || trip.Color != "#ABCDEF" {
		t.Fatalf("unexpected trip %+v", trip)
	}
	if _, err := s.UpdateTrip("nope", in); !errors.Is(err, core.ErrTripNotFound) {
		t.Fatalf("expected ErrTripNotFound, got %v", err)
	}
	bad := tripInput("x")
	bad.CategoryBudgets = []core.CategoryBudget{{CategoryName: "Spa", Amount: 10}}
	if _, err := s.UpdateTrip("t1", bad); !errors.Is(err, core.ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestDeleteTripClearsDefault(t *testing.T) {
	s, _ := newLoadedStore(t, &fakeBackend{}, ledgerWithTransport())
	if err := s.SetDefaultTrip("t2"); err != nil {
		t.Fatal(err)
	}
	if s.Snapshot().DefaultTrip() != "t2" {
		t.Fatal("expected default trip set")
	}
	if err := s.SetDefaultTrip("nope"); !errors.Is(err, core.ErrTripNotFound) {
		t.Fatalf("expected ErrTripNotFound, got %v", err)
	}
	if err := s.DeleteTrip("t1"); err != nil {
		t.Fatal(err)
	}
	if s.Snapshot().DefaultTrip() != "t2" {
		t.Fatal("deleting another trip cleared the default")
	}
	if err := s.DeleteTrip("t2"); err != nil {
		t.Fatal(err)
	}
	if s.Snapshot().DefaultTripID != nil {
		t.Fatal("expected default cleared")
	}
}

func TestCategoryNamesUnique(t *testing.T) {
	s, _ := newLoadedStore(t, &fakeBackend{}, core.DefaultLedger())
	c, err := s.AddCategory(core.CategoryInput{Name: "Musei", Color: "#112233"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(c.ID, core.CustomCategoryPrefix) {
		t.Fatalf("unexpected category id %q", c.ID)
	}
	if _, err := s.AddCategory(core.CategoryInput{Name: " Musei "}); !errors.Is(err, core.ErrDuplicateCategory) {
		t.Fatalf("expected ErrDuplicateCategory, got %v", err)
	}
	if _, err := s.UpdateCategory(c.ID, core.CategoryInput{Name: "Cibo"}); !errors.Is(err, core.ErrDuplicateCategory) {
		t.Fatalf("expected ErrDuplicateCategory on rename, got %v", err)
	}
	if _, err := s.UpdateCategory(c.ID, core.CategoryInput{Name: "Musei", Color: "blue-ish"}); !errors.Is(err, core.ErrInvalidColor) {
		t.Fatalf("expected ErrInvalidColor, got %v", err)
	}
}

func TestSavesAreCoalesced(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	s, buf := newLoadedStore(t, backend, core.DefaultLedger())

	if _, err := s.AddTrip(tripInput("Uno")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-backend.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first save never started")
	}
	for _, name := range []string{"Due", "Tre"} {
		if _, err := s.AddTrip(tripInput(name)); err != nil {
			t.Fatal(err)
		}
	}
	close(backend.gate)
	flush(t, s)

	if n := backend.saveCount(); n != 2 {
		t.Fatalf("expected 2 saves, got %d", n)
	}
	if n := len(backend.stored().Trips); n != 3 {
		t.Fatalf("expected final document with 3 trips, got %d", n)
	}
	if got := messages(buf); len(got) != 3 {
		t.Fatalf("expected one success message per mutation, got %v", got)
	}
}

func TestSubscribeLatestWins(t *testing.T) {
	s, _ := newLoadedStore(t, &fakeBackend{}, core.DefaultLedger())
	ch, cancel := s.Subscribe()
	defer cancel()

	for _, name := range []string{"A", "B", "C"} {
		if _, err := s.AddTrip(tripInput(name)); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case l := <-ch:
		if len(l.Trips) != 3 {
			t.Fatalf("expected latest snapshot, got %d trips", len(l.Trips))
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
	select {
	case l := <-ch:
		t.Fatalf("unexpected extra snapshot %+v", l)
	default:
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after cancel")
	}
	cancel()
}

func TestCloseSavesPendingAndClosesSubscribers(t *testing.T) {
	backend := &fakeBackend{}
	s := New("u1", backend)
	s.Replace(core.DefaultLedger())
	ch, _ := s.Subscribe()
	<-ch

	if _, err := s.AddTrip(tripInput("Ultimo")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if n := len(backend.stored().Trips); n != 1 {
		t.Fatalf("expected pending save written on close, got %d trips", n)
	}
	for range ch {
	}
	if _, err := s.AddTrip(tripInput("Dopo")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal("second close should be a no-op")
	}
}

func TestReplaceNilInstallsDefault(t *testing.T) {
	s := New("u1", &fakeBackend{})
	defer s.Close()
	s.Replace(nil)
	if l := s.Snapshot(); l == nil || len(l.Categories) != len(core.DefaultCategories()) {
		t.Fatalf("expected hollow default, got %+v", l)
	}
}
