package service

import (
	"context"
	"fmt"
	"time"

	"github.com/castlefun/swipewatch/internal/dedup"
	"github.com/castlefun/swipewatch/internal/domain"
	"github.com/castlefun/swipewatch/internal/observability"
	"github.com/castlefun/swipewatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval  = time.Minute
	defaultConcurrency   = 3
	defaultShutdownGrace = 10 * time.Second
)

// EventNotifier is the per-event delivery port the monitor dispatches to.
type EventNotifier interface {
	Notify(ctx context.Context, event domain.OfflineEvent) error
}

// Recorder persists metrics between cycles.
type Recorder interface {
	Persist(m *observability.Metrics) error
}

// Monitor drives the poll cycle: fetch offline events, filter them through
// the dedup store, dispatch notifications through a bounded worker pool,
// record metrics, sleep until the next tick. Cycles are strictly sequential;
// a new cycle never starts while the previous one is still notifying.
type Monitor struct {
	events        repository.EventRepository
	notifier      EventNotifier
	store         dedup.Store
	metrics       *observability.Metrics
	recorder      Recorder
	logger        *zap.Logger
	interval      time.Duration
	concurrency   int
	shutdownGrace time.Duration
	now           func() time.Time
}

func NewMonitor(
	events repository.EventRepository,
	notifier EventNotifier,
	store dedup.Store,
	metrics *observability.Metrics,
	recorder Recorder,
	interval time.Duration,
	concurrency int,
	shutdownGrace time.Duration,
	logger *zap.Logger,
) (*Monitor, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if store == nil {
		return nil, fmt.Errorf("dedup store is required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	if shutdownGrace <= 0 {
		shutdownGrace = defaultShutdownGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		events:        events,
		notifier:      notifier,
		store:         store,
		metrics:       metrics,
		recorder:      recorder,
		logger:        logger,
		interval:      interval,
		concurrency:   concurrency,
		shutdownGrace: shutdownGrace,
		now:           time.Now,
	}, nil
}

// Start runs cycles until ctx is canceled. The first cycle runs immediately
// so an already-offline swiper does not wait out a full interval.
func (m *Monitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.runCycle(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopping")
			return nil
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

func (m *Monitor) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := m.now()

	events, err := m.events.FetchOffline(ctx)
	if err != nil {
		// A bad cycle is logged and abandoned, never fatal.
		if ctx.Err() == nil {
			m.logger.Error("fetch offline events failed", zap.Error(err))
		}
		m.persistMetrics()
		return
	}

	unseen := m.filterUnseen(ctx, events)

	// Presence-based eviction happens regardless of delivery outcome: a key
	// missing from this poll had its condition clear, so a recurrence is new.
	evicted, err := m.store.Reconcile(ctx, domain.KeySet(events))
	if err != nil {
		m.logger.Error("dedup reconcile failed", zap.Error(err))
	}

	if len(unseen) > 0 {
		m.notifyAll(ctx, unseen)
	}

	finished := m.now()
	m.metrics.MarkSuccessfulCheck(finished)
	m.metrics.SetOfflineSwipers(len(events))
	m.metrics.ObserveCycleDuration(finished.Sub(start))

	m.logger.Info("poll cycle complete",
		zap.Int("offline", len(events)),
		zap.Int("new", len(unseen)),
		zap.Int("evicted", evicted),
		zap.Duration("took", finished.Sub(start)),
	)

	m.persistMetrics()
}

func (m *Monitor) filterUnseen(ctx context.Context, events []domain.OfflineEvent) []domain.OfflineEvent {
	unseen := make([]domain.OfflineEvent, 0, len(events))
	for _, event := range events {
		isNew, err := m.store.IsNew(ctx, event.Key())
		if err != nil {
			// Skipped this cycle; the event is still offline next cycle.
			m.logger.Error("dedup lookup failed",
				zap.String("eventKey", event.Key()),
				zap.Error(err),
			)
			continue
		}
		if isNew {
			unseen = append(unseen, event)
		}
	}
	return unseen
}

// notifyAll dispatches deliveries through a bounded pool. Per-event failures
// are isolated: a failed delivery is logged, stays unmarked in the dedup
// store, and never blocks the other events. On shutdown, in-flight sends get
// shutdownGrace to finish before being abandoned.
func (m *Monitor) notifyAll(ctx context.Context, events []domain.OfflineEvent) {
	nctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		time.Sleep(m.shutdownGrace)
		cancel()
	})
	defer stop()

	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)

	for _, event := range events {
		g.Go(func() error {
			if err := m.notifier.Notify(nctx, event); err != nil {
				m.logger.Error("notification failed",
					zap.String("eventKey", event.Key()),
					zap.String("swiper", event.SwiperDescription),
					zap.Error(err),
				)
				return nil
			}
			if err := m.store.MarkNotified(nctx, event.Key(), m.now()); err != nil {
				m.logger.Error("dedup mark failed",
					zap.String("eventKey", event.Key()),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	_ = g.Wait()
}

func (m *Monitor) persistMetrics() {
	if m.recorder == nil || m.metrics == nil {
		return
	}
	if err := m.recorder.Persist(m.metrics); err != nil {
		m.logger.Warn("metrics persistence failed", zap.Error(err))
	}
}
