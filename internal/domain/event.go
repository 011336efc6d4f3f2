package domain

import (
	"fmt"
	"strings"
	"time"
)

// OfflineEvent is one observed "swiper placed offline" occurrence read from
// the arcade database. Events are immutable once read; identity is the Key.
type OfflineEvent struct {
	UnitID            int64
	SwiperDescription string
	UserName          string
	DaysOffline       int
	Comment           string
	LoggedAt          time.Time
}

// Key returns the stable dedup identifier for the event: the swiper unit plus
// the log timestamp of the offline entry. The same unit going offline again at
// a later log time is a distinct occurrence and gets a fresh alert.
func (e OfflineEvent) Key() string {
	return fmt.Sprintf("%d@%s", e.UnitID, e.LoggedAt.UTC().Format(time.RFC3339))
}

func (e OfflineEvent) Validate() error {
	if e.UnitID <= 0 {
		return fmt.Errorf("%w: unit id must be positive", ErrValidation)
	}
	if strings.TrimSpace(e.SwiperDescription) == "" {
		return fmt.Errorf("%w: swiper description is required", ErrValidation)
	}
	if strings.TrimSpace(e.UserName) == "" {
		return fmt.Errorf("%w: user name is required", ErrValidation)
	}
	if e.LoggedAt.IsZero() {
		return fmt.Errorf("%w: log timestamp is required", ErrValidation)
	}
	if e.DaysOffline < 0 {
		return fmt.Errorf("%w: days offline cannot be negative", ErrValidation)
	}
	return nil
}

// KeySet collects the dedup keys of a fetched batch. Row order is not
// significant; the poll loop treats the result as a set.
func KeySet(events []OfflineEvent) map[string]struct{} {
	keys := make(map[string]struct{}, len(events))
	for _, e := range events {
		keys[e.Key()] = struct{}{}
	}
	return keys
}
