package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/castlefun/swipewatch/internal/dedup"
	"github.com/castlefun/swipewatch/internal/domain"
	"github.com/castlefun/swipewatch/internal/observability"
)

type fakeEventRepo struct {
	mu      sync.Mutex
	batches [][]domain.OfflineEvent
	errs    []error
	calls   int
}

func (f *fakeEventRepo) FetchOffline(_ context.Context) ([]domain.OfflineEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return nil, nil
}

func (f *fakeEventRepo) Ping(_ context.Context) error { return nil }

type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
	failKeys map[string]bool
}

func (f *fakeNotifier) Notify(_ context.Context, event domain.OfflineEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failKeys[event.Key()] {
		return domain.ErrDelivery
	}
	f.notified = append(f.notified, event.Key())
	return nil
}

func (f *fakeNotifier) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := append([]string(nil), f.notified...)
	sort.Strings(keys)
	return keys
}

type fakeRecorder struct {
	mu       sync.Mutex
	persists int
	err      error
}

func (f *fakeRecorder) Persist(_ *observability.Metrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.persists++
	return f.err
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persists
}

func event(unitID int64) domain.OfflineEvent {
	return domain.OfflineEvent{
		UnitID:            unitID,
		SwiperDescription: "Skee Ball",
		UserName:          "jdoe",
		DaysOffline:       1,
		Comment:           "Swiper placed Offline",
		LoggedAt:          time.Date(2026, 2, 27, 18, 30, 0, 0, time.UTC),
	}
}

func newTestMonitor(t *testing.T, repo *fakeEventRepo, notifier *fakeNotifier, store dedup.Store, recorder Recorder) *Monitor {
	t.Helper()

	m, err := NewMonitor(repo, notifier, store, observability.NewMetrics(), recorder, time.Minute, 2, time.Second, nil)
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	return m
}

func TestRunCycleNotifiesOnlyUnseenAndMarks(t *testing.T) {
	t.Parallel()

	store := dedup.NewMemoryStore()
	if err := store.MarkNotified(context.Background(), event(1).Key(), time.Now()); err != nil {
		t.Fatalf("MarkNotified() error = %v", err)
	}

	repo := &fakeEventRepo{batches: [][]domain.OfflineEvent{{event(1), event(2)}}}
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	m := newTestMonitor(t, repo, notifier, store, recorder)

	m.runCycle(context.Background())

	if got := notifier.keys(); len(got) != 1 || got[0] != event(2).Key() {
		t.Fatalf("notified = %v, want only the unseen event", got)
	}

	// Successful delivery suppresses the event for the next cycle.
	isNew, err := store.IsNew(context.Background(), event(2).Key())
	if err != nil {
		t.Fatalf("IsNew() error = %v", err)
	}
	if isNew {
		t.Fatal("delivered event must be marked notified")
	}

	if recorder.count() != 1 {
		t.Fatalf("persists = %d, want 1", recorder.count())
	}

	snap := m.metrics.Snapshot()
	if snap.NotificationsSent != 0 {
		// Delivery accounting lives in the Notifier, not in the monitor fakes.
		t.Fatalf("NotificationsSent = %d, want 0 from fake notifier", snap.NotificationsSent)
	}
	if snap.LastSuccessfulCheck == nil {
		t.Fatal("LastSuccessfulCheck must be stamped after a good cycle")
	}
}

// Three cycles with the poll sets {A,B}, {B}, {A,B}. A is evicted while
// resolved and notified again on recurrence; B is notified exactly once.
func TestRunCycleRecurrenceAcrossCycles(t *testing.T) {
	t.Parallel()

	a, b := event(1), event(2)
	repo := &fakeEventRepo{batches: [][]domain.OfflineEvent{
		{a, b},
		{b},
		{a, b},
	}}
	notifier := &fakeNotifier{}
	m := newTestMonitor(t, repo, notifier, dedup.NewMemoryStore(), &fakeRecorder{})

	for i := 0; i < 3; i++ {
		m.runCycle(context.Background())
	}

	want := []string{a.Key(), a.Key(), b.Key()}
	sort.Strings(want)
	if got := notifier.keys(); len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("notified = %v, want A twice and B once", got)
	}
}

func TestRunCycleFetchFailureAbandonsCycle(t *testing.T) {
	t.Parallel()

	repo := &fakeEventRepo{errs: []error{domain.ErrConnection}}
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	m := newTestMonitor(t, repo, notifier, dedup.NewMemoryStore(), recorder)

	m.runCycle(context.Background())

	if got := notifier.keys(); len(got) != 0 {
		t.Fatalf("notified = %v, want none on fetch failure", got)
	}
	if snap := m.metrics.Snapshot(); snap.LastSuccessfulCheck != nil {
		t.Fatal("failed cycle must not stamp LastSuccessfulCheck")
	}
	// Metrics still hit disk so the failure is visible externally.
	if recorder.count() != 1 {
		t.Fatalf("persists = %d, want 1", recorder.count())
	}
}

func TestRunCycleIsolatesPerEventFailures(t *testing.T) {
	t.Parallel()

	a, b := event(1), event(2)
	repo := &fakeEventRepo{batches: [][]domain.OfflineEvent{{a, b}}}
	notifier := &fakeNotifier{failKeys: map[string]bool{a.Key(): true}}
	store := dedup.NewMemoryStore()
	m := newTestMonitor(t, repo, notifier, store, &fakeRecorder{})

	m.runCycle(context.Background())

	if got := notifier.keys(); len(got) != 1 || got[0] != b.Key() {
		t.Fatalf("notified = %v, want B despite A failing", got)
	}

	// A stays unmarked, so the next cycle retries it naturally.
	isNew, err := store.IsNew(context.Background(), a.Key())
	if err != nil {
		t.Fatalf("IsNew() error = %v", err)
	}
	if !isNew {
		t.Fatal("failed delivery must leave the event unmarked")
	}

	isNew, err = store.IsNew(context.Background(), b.Key())
	if err != nil {
		t.Fatalf("IsNew() error = %v", err)
	}
	if isNew {
		t.Fatal("delivered event must be marked")
	}
}

func TestRunCycleReconcilesRegardlessOfDelivery(t *testing.T) {
	t.Parallel()

	a, b := event(1), event(2)
	store := dedup.NewMemoryStore()
	if err := store.MarkNotified(context.Background(), a.Key(), time.Now()); err != nil {
		t.Fatalf("MarkNotified() error = %v", err)
	}

	// A is absent from this poll, B is present but its delivery fails.
	repo := &fakeEventRepo{batches: [][]domain.OfflineEvent{{b}}}
	notifier := &fakeNotifier{failKeys: map[string]bool{b.Key(): true}}
	m := newTestMonitor(t, repo, notifier, store, &fakeRecorder{})

	m.runCycle(context.Background())

	isNew, err := store.IsNew(context.Background(), a.Key())
	if err != nil {
		t.Fatalf("IsNew() error = %v", err)
	}
	if !isNew {
		t.Fatal("absent key must be evicted even when deliveries fail")
	}
}

func TestStartReturnsPromptlyOnCancel(t *testing.T) {
	t.Parallel()

	repo := &fakeEventRepo{}
	m := newTestMonitor(t, repo, &fakeNotifier{}, dedup.NewMemoryStore(), &fakeRecorder{})
	m.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	// Let the immediate first cycle run, then ask for shutdown.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancellation")
	}

	if repo.calls != 1 {
		t.Fatalf("fetch calls = %d, want the single immediate cycle", repo.calls)
	}
}

func TestNewMonitorValidation(t *testing.T) {
	t.Parallel()

	repo := &fakeEventRepo{}
	notifier := &fakeNotifier{}
	store := dedup.NewMemoryStore()

	if _, err := NewMonitor(nil, notifier, store, nil, nil, 0, 0, 0, nil); err == nil {
		t.Fatal("expected error for nil repository")
	}
	if _, err := NewMonitor(repo, nil, store, nil, nil, 0, 0, 0, nil); err == nil {
		t.Fatal("expected error for nil notifier")
	}
	if _, err := NewMonitor(repo, notifier, nil, nil, nil, 0, 0, 0, nil); err == nil {
		t.Fatal("expected error for nil store")
	}

	m, err := NewMonitor(repo, notifier, store, nil, nil, 0, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	if m.interval != defaultPollInterval || m.concurrency != defaultConcurrency || m.shutdownGrace != defaultShutdownGrace {
		t.Fatal("zero values must fall back to defaults")
	}
}
