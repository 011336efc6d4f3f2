package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/castlefun/swipewatch/internal/domain"
	"github.com/castlefun/swipewatch/internal/retry"
	"gorm.io/gorm"
)

const (
	connectAttempts = 3
	connectDelay    = 5 * time.Second
)

// EventRepository is the read-only source of currently-offline swiper events.
type EventRepository interface {
	FetchOffline(ctx context.Context) ([]domain.OfflineEvent, error)
	Ping(ctx context.Context) error
}

// ConnectionMetrics receives per-attempt connection accounting.
type ConnectionMetrics interface {
	IncDBConnectionAttempt()
	IncDBConnectionFailure()
}

// The newest "Swiper placed Offline" log entry per swiper unit, joined to the
// flagging user, filtered to non-retired swipers on active units. The table
// and column names are a contract with the operator's arcade schema.
const offlineEventsQuery = `
WITH offline_events AS (
    SELECT
        ROW_NUMBER() OVER (PARTITION BY gs.game_id ORDER BY gl.log_datetime DESC) AS row_num,
        gs.game_id AS unit_id,
        gs.swiper_description,
        u.user_name,
        gl.comment,
        gl.log_datetime,
        GREATEST(EXTRACT(DAY FROM now() - gl.log_datetime), 0)::int AS days_offline
    FROM game_swipers gs
    JOIN (
        SELECT game_id, log_datetime, STRING_AGG(TRIM(comment), ', ') AS comment
        FROM game_log
        WHERE comment LIKE 'Swiper placed Offline%'
        GROUP BY game_id, log_datetime
    ) gl ON gs.game_id = gl.game_id
    JOIN game_events ge ON ge.game_id = gl.game_id AND ge.event_time = gl.log_datetime
    JOIN users u ON ge.user_id = u.user_id
    JOIN swiper_units su ON su.game_id = gs.game_id
    WHERE gs.retired IS NULL
      AND ge.event_type = 44
      AND su.status = 1
)
SELECT unit_id, swiper_description, user_name, comment, log_datetime, days_offline
FROM offline_events
WHERE row_num = 1
ORDER BY swiper_description
`

type offlineRow struct {
	UnitID            int64     `gorm:"column:unit_id"`
	SwiperDescription string    `gorm:"column:swiper_description"`
	UserName          string    `gorm:"column:user_name"`
	Comment           string    `gorm:"column:comment"`
	LogDatetime       time.Time `gorm:"column:log_datetime"`
	DaysOffline       int       `gorm:"column:days_offline"`
}

type GormEventRepo struct {
	db      *gorm.DB
	metrics ConnectionMetrics
	policy  retry.Policy
}

func NewGormEventRepo(db *gorm.DB, metrics ConnectionMetrics) (*GormEventRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	if metrics == nil {
		metrics = noopConnectionMetrics{}
	}

	return &GormEventRepo{
		db:      db,
		metrics: metrics,
		policy: retry.Policy{
			Attempts: connectAttempts,
			Delay:    connectDelay,
			// Malformed rows will stay malformed on the next attempt;
			// only connection-class failures are worth retrying.
			RetryIf: func(err error) bool { return !errors.Is(err, domain.ErrQuery) },
		},
	}, nil
}

// FetchOffline runs the offline-events query with bounded connection retries.
// Each attempt increments db_connection_attempts; each connection failure
// increments db_connection_failures. Exhaustion surfaces domain.ErrConnection;
// malformed rows surface domain.ErrQuery without retry.
func (r *GormEventRepo) FetchOffline(ctx context.Context) ([]domain.OfflineEvent, error) {
	var events []domain.OfflineEvent

	op := func(ctx context.Context) error {
		r.metrics.IncDBConnectionAttempt()

		var rows []offlineRow
		if err := r.db.WithContext(ctx).Raw(offlineEventsQuery).Scan(&rows).Error; err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConnection, err)
		}

		mapped, err := mapRows(rows)
		if err != nil {
			return err
		}
		events = mapped
		return nil
	}

	onFailure := func(_ int, err error) {
		if errors.Is(err, domain.ErrConnection) {
			r.metrics.IncDBConnectionFailure()
		}
	}

	if err := retry.Do(ctx, r.policy, op, onFailure); err != nil {
		return nil, err
	}
	return events, nil
}

// WaitReady pings the database under the same bounded retry policy as the
// fetch, so a transient blip during startup does not kill the process. Each
// attempt counts toward db_connection_attempts like a regular fetch.
func (r *GormEventRepo) WaitReady(ctx context.Context) error {
	op := func(ctx context.Context) error {
		r.metrics.IncDBConnectionAttempt()
		return r.Ping(ctx)
	}

	onFailure := func(_ int, err error) {
		if errors.Is(err, domain.ErrConnection) {
			r.metrics.IncDBConnectionFailure()
		}
	}

	return retry.Do(ctx, r.policy, op, onFailure)
}

func (r *GormEventRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	return nil
}

func mapRows(rows []offlineRow) ([]domain.OfflineEvent, error) {
	events := make([]domain.OfflineEvent, 0, len(rows))
	for i, row := range rows {
		event := domain.OfflineEvent{
			UnitID:            row.UnitID,
			SwiperDescription: strings.TrimSpace(row.SwiperDescription),
			UserName:          strings.TrimSpace(row.UserName),
			DaysOffline:       row.DaysOffline,
			Comment:           strings.TrimSpace(row.Comment),
			LoggedAt:          row.LogDatetime,
		}
		if err := event.Validate(); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", domain.ErrQuery, i, err)
		}
		events = append(events, event)
	}
	return events, nil
}

type noopConnectionMetrics struct{}

func (noopConnectionMetrics) IncDBConnectionAttempt() {}
func (noopConnectionMetrics) IncDBConnectionFailure() {}
