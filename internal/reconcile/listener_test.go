package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/ledger"
	"spendlog/internal/notify"
	"spendlog/internal/persist"
	"spendlog/internal/persist/cloud"
	"spendlog/internal/persist/memory"
)

type failingFetcher struct{ err error }

func (f failingFetcher) Fetch(context.Context, string) (*core.Ledger, error) { return nil, f.err }

// scriptedLive replays events pushed by the test.
type scriptedLive struct {
	events  chan persist.Event
	subErr  error
	saveErr error

	mu    sync.Mutex
	saves int
}

func newScriptedLive() *scriptedLive {
	return &scriptedLive{events: make(chan persist.Event, 4)}
}

func (f *scriptedLive) Fetch(context.Context, string) (*core.Ledger, error) {
	return nil, persist.ErrNotFound
}

func (f *scriptedLive) Save(context.Context, string, *core.Ledger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return f.saveErr
}

func (f *scriptedLive) Subscribe(ctx context.Context, _ string) (<-chan persist.Event, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	out := make(chan persist.Event)
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-f.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func waitReady(t *testing.T, l *Listener) {
	t.Helper()
	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("listener never became ready (state %s)", l.State())
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newStore(t *testing.T, b persist.Backend) *ledger.Store {
	t.Helper()
	s := ledger.New("u1", b)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLocalLoadsExistingDocument(t *testing.T) {
	docs := memory.New()
	stored := core.DefaultLedger()
	stored.Name = "Ada"
	if err := docs.Save(context.Background(), "u1", stored); err != nil {
		t.Fatal(err)
	}
	store := newStore(t, docs)
	l := NewLocal(store, docs)
	defer l.Close()

	if l.State() != StateIdle {
		t.Fatalf("expected idle before start, got %s", l.State())
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitReady(t, l)
	if l.State() != StateLoaded || store.Snapshot().Name != "Ada" {
		t.Fatalf("expected loaded document, state=%s snapshot=%+v", l.State(), store.Snapshot())
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestLocalMissingDocumentUsesDefault(t *testing.T) {
	docs := memory.New()
	store := newStore(t, docs)
	l := NewLocal(store, docs)
	defer l.Close()

	l.Start(context.Background())
	if l.State() != StateLoaded || len(store.Snapshot().Categories) != len(core.DefaultCategories()) {
		t.Fatalf("expected default ledger, got %+v", store.Snapshot())
	}
}

func TestLocalFetchFailureDegrades(t *testing.T) {
	buf := notify.NewBuffer(10)
	store := newStore(t, memory.New())
	l := NewLocal(store, failingFetcher{errors.New("disk unreadable")}, WithNotifier(buf))
	defer l.Close()

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("fetch failure must not surface as an error, got %v", err)
	}
	if l.State() != StateLoaded || store.Snapshot() == nil {
		t.Fatalf("expected degraded default, state=%s", l.State())
	}
	got := buf.Drain()
	if len(got) != 1 || got[0].Message != MsgMockLoadFailed {
		t.Fatalf("unexpected notifications %+v", got)
	}
}

func TestLocalRefetch(t *testing.T) {
	docs := memory.New()
	store := newStore(t, docs)
	l := NewLocal(store, docs)
	defer l.Close()
	l.Start(context.Background())

	changed := core.DefaultLedger()
	changed.Name = "Grace"
	docs.Save(context.Background(), "u1", changed)
	if store.Snapshot().Name != "" {
		t.Fatal("local mode must not push updates")
	}
	if err := l.Refetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.Snapshot().Name != "Grace" {
		t.Fatal("expected refetch to overwrite snapshot")
	}
}

func TestCloudBootstrapsNewUser(t *testing.T) {
	docs := memory.New()
	broker := cloud.NewLocalBroker()
	live := cloud.New(docs, broker, nil)
	store := newStore(t, live)
	l := NewCloud(store, live)
	defer l.Close()

	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitReady(t, l)
	if l.State() != StateSynced {
		t.Fatalf("expected synced after bootstrap, got %s", l.State())
	}
	if _, err := docs.Fetch(context.Background(), "u1"); err != nil {
		t.Fatalf("expected default document written, got %v", err)
	}
}

func TestCloudAdoptsRemoteWrites(t *testing.T) {
	docs := memory.New()
	docs.Save(context.Background(), "u1", core.DefaultLedger())
	broker := cloud.NewLocalBroker()
	live := cloud.New(docs, broker, nil)
	store := newStore(t, live)
	l := NewCloud(store, live)
	defer l.Close()

	l.Start(context.Background())
	waitReady(t, l)

	// A second device writes through its own store.
	other := cloud.New(docs, broker, nil)
	remote := core.DefaultLedger()
	remote.Name = "from another device"
	if err := other.Save(context.Background(), "u1", remote); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "remote snapshot", func() bool { return store.Snapshot().Name == "from another device" })
}

func TestCloudOptimisticWriteRoundTrips(t *testing.T) {
	docs := memory.New()
	docs.Save(context.Background(), "u1", core.DefaultLedger())
	live := cloud.New(docs, cloud.NewLocalBroker(), nil)
	store := newStore(t, live)
	l := NewCloud(store, live)
	defer l.Close()
	l.Start(context.Background())
	waitReady(t, l)

	if _, err := store.AddCategory(core.CategoryInput{Name: "Musei"}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "saved snapshot echoed back", func() bool {
		got, err := docs.Fetch(context.Background(), "u1")
		return err == nil && got.HasCategoryName("Musei") && store.Snapshot().HasCategoryName("Musei")
	})
	if l.State() != StateSynced {
		t.Fatalf("expected synced, got %s", l.State())
	}
}

func TestCloudSubscriptionErrorDegrades(t *testing.T) {
	buf := notify.NewBuffer(10)
	live := newScriptedLive()
	store := newStore(t, live)
	l := NewCloud(store, live, WithNotifier(buf))

	l.Start(context.Background())
	synced := core.DefaultLedger()
	synced.Name = "Ada"
	live.events <- persist.Event{Ledger: synced, Exists: true}
	waitFor(t, "synced", func() bool { return l.State() == StateSynced })

	live.events <- persist.Event{Err: errors.New("permission denied")}
	waitFor(t, "error state", func() bool { return l.State() == StateError })

	if store.Snapshot().Name != "" {
		t.Fatal("expected hollow default after subscription error")
	}
	got := buf.Drain()
	if len(got) != 1 || got[0].Message != MsgSyncFailed || got[0].Level != notify.LevelError {
		t.Fatalf("unexpected notifications %+v", got)
	}

	done := make(chan struct{})
	go func() { l.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked after subscription error")
	}
}

func TestCloudSubscribeFailure(t *testing.T) {
	buf := notify.NewBuffer(10)
	live := newScriptedLive()
	live.subErr = errors.New("broker unreachable")
	store := newStore(t, live)
	l := NewCloud(store, live, WithNotifier(buf))
	defer l.Close()

	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if l.State() != StateError || store.Snapshot() == nil {
		t.Fatalf("expected degraded error state, got %s", l.State())
	}
	if buf.Len() != 1 {
		t.Fatal("expected one notification")
	}
}

func TestCloudBootstrapSaveFailure(t *testing.T) {
	buf := notify.NewBuffer(10)
	live := newScriptedLive()
	live.saveErr = errors.New("read-only")
	store := newStore(t, live)
	l := NewCloud(store, live, WithNotifier(buf))
	defer l.Close()

	l.Start(context.Background())
	live.events <- persist.Event{Exists: false}
	waitReady(t, l)

	if l.State() != StateError {
		t.Fatalf("expected error state, got %s", l.State())
	}
	got := buf.Drain()
	if len(got) != 1 || got[0].Message != MsgProfileCreateFailed {
		t.Fatalf("unexpected notifications %+v", got)
	}
}

func TestCloudStaysSubscribingUntilBootstrapEchoes(t *testing.T) {
	live := newScriptedLive()
	store := newStore(t, live)
	l := NewCloud(store, live)
	defer l.Close()

	l.Start(context.Background())
	live.events <- persist.Event{Exists: false}
	waitFor(t, "bootstrap save", func() bool {
		live.mu.Lock()
		defer live.mu.Unlock()
		return live.saves == 1
	})
	if l.State() != StateSubscribing || store.Snapshot() != nil {
		t.Fatalf("expected to wait for the stored snapshot, state=%s", l.State())
	}
	live.events <- persist.Event{Ledger: core.DefaultLedger(), Exists: true}
	waitReady(t, l)
	if l.State() != StateSynced {
		t.Fatalf("expected synced, got %s", l.State())
	}
}

func TestCloseReleasesSubscription(t *testing.T) {
	broker := cloud.NewLocalBroker()
	live := cloud.New(memory.New(), broker, nil)
	store := newStore(t, live)
	l := NewCloud(store, live)

	l.Start(context.Background())
	waitReady(t, l)
	if broker.Subscribers("u1") != 1 {
		t.Fatalf("expected one feed, got %d", broker.Subscribers("u1"))
	}
	l.Close()
	waitFor(t, "feed released", func() bool { return broker.Subscribers("u1") == 0 })
	l.Close()
}

func TestCloseBeforeStart(t *testing.T) {
	l := NewLocal(newStore(t, memory.New()), memory.New())
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted after close, got %v", err)
	}
}
