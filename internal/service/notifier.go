package service

import (
	"context"
	"fmt"
	"time"

	"github.com/castlefun/swipewatch/internal/domain"
	"github.com/castlefun/swipewatch/internal/provider"
	"github.com/castlefun/swipewatch/internal/retry"
	"go.uber.org/zap"
)

const (
	deliveryAttempts = 3
	deliveryDelay    = 5 * time.Second
)

// DeliveryMetrics receives notification outcome accounting.
type DeliveryMetrics interface {
	IncNotificationSent()
	IncNotificationFailed()
}

// Notifier delivers one offline event to the chat provider with bounded
// retries. Every failure kind is retried identically up to the attempt bound;
// the transient/permanent classification only shows up in logs.
type Notifier struct {
	provider provider.Provider
	metrics  DeliveryMetrics
	logger   *zap.Logger
	policy   retry.Policy
}

func NewNotifier(p provider.Provider, metrics DeliveryMetrics, logger *zap.Logger) (*Notifier, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Notifier{
		provider: p,
		metrics:  metrics,
		logger:   logger,
		policy:   retry.Policy{Attempts: deliveryAttempts, Delay: deliveryDelay},
	}, nil
}

// Notify returns domain.ErrDelivery once retries are exhausted. The caller
// must not mark the event as notified in that case; the event stays in the
// next poll's unseen set and is retried naturally.
func (n *Notifier) Notify(ctx context.Context, event domain.OfflineEvent) error {
	op := func(ctx context.Context) error {
		resp, err := n.provider.Send(ctx, event)
		if err != nil {
			return err
		}
		if resp != nil && resp.MessageTS != "" {
			n.logger.Debug("chat accepted message",
				zap.String("eventKey", event.Key()),
				zap.String("messageTs", resp.MessageTS),
			)
		}
		return nil
	}

	onFailure := func(attempt int, err error) {
		n.logger.Warn("notification attempt failed",
			zap.String("eventKey", event.Key()),
			zap.String("swiper", event.SwiperDescription),
			zap.Int("attempt", attempt),
			zap.Bool("transient", provider.IsTransient(err)),
			zap.Error(err),
		)
	}

	if err := retry.Do(ctx, n.policy, op, onFailure); err != nil {
		if n.metrics != nil {
			n.metrics.IncNotificationFailed()
		}
		return fmt.Errorf("%w: event %s: %v", domain.ErrDelivery, event.Key(), err)
	}

	if n.metrics != nil {
		n.metrics.IncNotificationSent()
	}
	return nil
}
