package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/castlefun/swipewatch/internal/domain"
	"github.com/castlefun/swipewatch/internal/provider"
	"github.com/castlefun/swipewatch/internal/retry"
)

type fakeProvider struct {
	calls     int
	failUntil int
	err       error
}

func (f *fakeProvider) Send(ctx context.Context, _ domain.OfflineEvent) (*provider.ProviderResponse, error) {
	f.calls++
	if f.calls <= f.failUntil {
		err := f.err
		if err == nil {
			err = errors.New("send failed")
		}
		return nil, err
	}
	return &provider.ProviderResponse{StatusCode: 200, MessageTS: "1764000000.000100"}, nil
}

type fakeDeliveryMetrics struct {
	sent   int
	failed int
}

func (f *fakeDeliveryMetrics) IncNotificationSent()   { f.sent++ }
func (f *fakeDeliveryMetrics) IncNotificationFailed() { f.failed++ }

func fastNotifier(t *testing.T, p provider.Provider, metrics DeliveryMetrics) *Notifier {
	t.Helper()

	n, err := NewNotifier(p, metrics, nil)
	if err != nil {
		t.Fatalf("NewNotifier() error = %v", err)
	}
	n.policy = retry.Policy{Attempts: deliveryAttempts, Delay: time.Millisecond}
	return n
}

func offlineEvent(unitID int64) domain.OfflineEvent {
	return domain.OfflineEvent{
		UnitID:            unitID,
		SwiperDescription: "Skee Ball #3",
		UserName:          "jdoe",
		DaysOffline:       2,
		Comment:           "Swiper placed Offline",
		LoggedAt:          time.Date(2026, 2, 27, 18, 30, 0, 0, time.UTC),
	}
}

func TestNotifySuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	metrics := &fakeDeliveryMetrics{}
	n := fastNotifier(t, p, metrics)

	if err := n.Notify(context.Background(), offlineEvent(1)); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if p.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls)
	}
	if metrics.sent != 1 || metrics.failed != 0 {
		t.Fatalf("metrics = sent %d failed %d, want 1/0", metrics.sent, metrics.failed)
	}
}

func TestNotifyRecoversWithinAttemptBound(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{failUntil: 2}
	metrics := &fakeDeliveryMetrics{}
	n := fastNotifier(t, p, metrics)

	if err := n.Notify(context.Background(), offlineEvent(1)); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if p.calls != 3 {
		t.Fatalf("provider calls = %d, want 3", p.calls)
	}
	if metrics.sent != 1 || metrics.failed != 0 {
		t.Fatalf("metrics = sent %d failed %d, want 1/0", metrics.sent, metrics.failed)
	}
}

func TestNotifyExhaustionSurfacesDeliveryError(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{failUntil: 100, err: &provider.ProviderError{APIError: "invalid_auth", Message: "chat api error"}}
	metrics := &fakeDeliveryMetrics{}
	n := fastNotifier(t, p, metrics)

	err := n.Notify(context.Background(), offlineEvent(1))
	if !errors.Is(err, domain.ErrDelivery) {
		t.Fatalf("error = %v, want domain.ErrDelivery", err)
	}

	// Permanent and transient failures get the same bound.
	if p.calls != deliveryAttempts {
		t.Fatalf("provider calls = %d, want %d", p.calls, deliveryAttempts)
	}
	if metrics.sent != 0 || metrics.failed != 1 {
		t.Fatalf("metrics = sent %d failed %d, want 0/1", metrics.sent, metrics.failed)
	}
}

func TestNewNotifierRequiresProvider(t *testing.T) {
	t.Parallel()

	if _, err := NewNotifier(nil, nil, nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}
