package provider

import (
	"context"

	"github.com/castlefun/swipewatch/internal/domain"
)

// Provider is the outbound chat delivery port.
type Provider interface {
	Send(ctx context.Context, event domain.OfflineEvent) (*ProviderResponse, error)
}

// ProviderResponse stores delivery call metadata for logging.
type ProviderResponse struct {
	StatusCode int
	// MessageTS is the Slack message timestamp, empty when the API omits it.
	MessageTS string
}
