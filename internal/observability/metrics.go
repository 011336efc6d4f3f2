package observability

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the monitor counters and timestamps. The atomics are the
// single source of truth: the persisted JSON snapshot and the prometheus
// collectors both read the same values, so the file and /metrics never drift.
type Metrics struct {
	registry *prometheus.Registry

	notificationsSent    atomic.Int64
	failedNotifications  atomic.Int64
	dbConnectionAttempts atomic.Int64
	dbConnectionFailures atomic.Int64
	lastSuccessfulCheck  atomic.Int64 // unix nanos, 0 means never
	lastWrite            atomic.Int64 // unix nanos, 0 means never
	offlineSwipers       atomic.Int64

	cycleDuration prometheus.Histogram
}

// Snapshot is the metrics file payload, overwritten on each persistence cycle.
type Snapshot struct {
	NotificationsSent    int64      `json:"notifications_sent"`
	FailedNotifications  int64      `json:"failed_notifications"`
	DBConnectionAttempts int64      `json:"db_connection_attempts"`
	DBConnectionFailures int64      `json:"db_connection_failures"`
	LastSuccessfulCheck  *time.Time `json:"last_successful_check"`
	LastWrite            *time.Time `json:"last_write"`
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swipewatch",
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of one full poll cycle in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	counterFor := func(name, help string, value *atomic.Int64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Namespace: "swipewatch", Name: name, Help: help},
			func() float64 { return float64(value.Load()) },
		)
	}
	timestampFor := func(name, help string, value *atomic.Int64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: "swipewatch", Name: name, Help: help},
			func() float64 {
				nanos := value.Load()
				if nanos == 0 {
					return 0
				}
				return float64(nanos) / float64(time.Second)
			},
		)
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		counterFor("notifications_sent_total",
			"Total number of offline alerts delivered to the chat channel.",
			&m.notificationsSent),
		counterFor("notifications_failed_total",
			"Total number of offline alerts that exhausted delivery retries.",
			&m.failedNotifications),
		counterFor("db_connection_attempts_total",
			"Total number of database fetch attempts.",
			&m.dbConnectionAttempts),
		counterFor("db_connection_failures_total",
			"Total number of failed database fetch attempts.",
			&m.dbConnectionFailures),
		timestampFor("last_successful_check_timestamp_seconds",
			"Unix time of the last successful poll cycle, 0 when never.",
			&m.lastSuccessfulCheck),
		timestampFor("last_metrics_write_timestamp_seconds",
			"Unix time of the last metrics file write, 0 when never.",
			&m.lastWrite),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "swipewatch",
				Name:      "offline_swipers",
				Help:      "Swipers reported offline by the most recent poll.",
			},
			func() float64 { return float64(m.offlineSwipers.Load()) },
		),
		m.cycleDuration,
	)

	return m
}

func (m *Metrics) IncNotificationSent() {
	if m == nil {
		return
	}
	m.notificationsSent.Add(1)
}

func (m *Metrics) IncNotificationFailed() {
	if m == nil {
		return
	}
	m.failedNotifications.Add(1)
}

func (m *Metrics) IncDBConnectionAttempt() {
	if m == nil {
		return
	}
	m.dbConnectionAttempts.Add(1)
}

func (m *Metrics) IncDBConnectionFailure() {
	if m == nil {
		return
	}
	m.dbConnectionFailures.Add(1)
}

func (m *Metrics) MarkSuccessfulCheck(at time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulCheck.Store(at.UnixNano())
}

func (m *Metrics) MarkWrite(at time.Time) {
	if m == nil {
		return
	}
	m.lastWrite.Store(at.UnixNano())
}

func (m *Metrics) SetOfflineSwipers(count int) {
	if m == nil {
		return
	}
	m.offlineSwipers.Store(int64(count))
}

func (m *Metrics) ObserveCycleDuration(d time.Duration) {
	if m == nil {
		return
	}
	seconds := d.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.cycleDuration.Observe(seconds)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		NotificationsSent:    m.notificationsSent.Load(),
		FailedNotifications:  m.failedNotifications.Load(),
		DBConnectionAttempts: m.dbConnectionAttempts.Load(),
		DBConnectionFailures: m.dbConnectionFailures.Load(),
		LastSuccessfulCheck:  nanosToTime(m.lastSuccessfulCheck.Load()),
		LastWrite:            nanosToTime(m.lastWrite.Load()),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func nanosToTime(nanos int64) *time.Time {
	if nanos == 0 {
		return nil
	}
	t := time.Unix(0, nanos).UTC()
	return &t
}
