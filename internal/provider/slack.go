package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/castlefun/swipewatch/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultSendTimeout = 10 * time.Second

// Block Kit payload pieces for chat.postMessage.
type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackRequest struct {
	Channel string `json:"channel"`
	// Text is the fallback for clients that cannot render blocks.
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// SlackProvider delivers offline alerts to a Slack channel via chat.postMessage.
type SlackProvider struct {
	client   *resty.Client
	endpoint string
	token    string
	channel  string
}

func NewSlackProvider(endpoint, token, channel string) (*SlackProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return NewSlackProviderWithClient(endpoint, token, channel, client)
}

func NewSlackProviderWithClient(endpoint, token, channel string, client *resty.Client) (*SlackProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("slack endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid slack endpoint: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, fmt.Errorf("slack channel is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	// Retries are the caller's policy, never the transport's.
	client.SetRetryCount(0)

	return &SlackProvider{
		client:   client,
		endpoint: trimmedEndpoint,
		token:    token,
		channel:  channel,
	}, nil
}

func (p *SlackProvider) Send(ctx context.Context, event domain.OfflineEvent) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetAuthToken(p.token).
		SetBody(buildMessage(p.channel, event)).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "slack request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "slack returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    fmt.Sprintf("slack returned status %d", statusCode),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	var body slackResponse
	if err := json.Unmarshal(response.Body(), &body); err != nil {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    "slack returned unparseable body",
			Transient:  true,
			Cause:      err,
		}
	}
	if !body.OK {
		return nil, &ProviderError{
			StatusCode: statusCode,
			APIError:   body.Error,
			Message:    "slack rejected the message",
			Transient:  isTransientAPIError(body.Error),
		}
	}

	return &ProviderResponse{StatusCode: statusCode, MessageTS: body.TS}, nil
}

func buildMessage(channel string, event domain.OfflineEvent) slackRequest {
	return slackRequest{
		Channel: channel,
		Text: fmt.Sprintf("Embed swiper offline: %s (%d days)",
			event.SwiperDescription, event.DaysOffline),
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: "🚨 Embed Swiper Offline Alert!"},
			},
			{
				Type: "section",
				Fields: []slackText{
					{Type: "mrkdwn", Text: fmt.Sprintf("*Game:*\n%s", event.SwiperDescription)},
					{Type: "mrkdwn", Text: fmt.Sprintf("*User:*\n%s", event.UserName)},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Days Offline:*\n%d", event.DaysOffline)},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Log Time:*\n%s", event.LoggedAt.Format("2006-01-02 15:04:05"))},
				},
			},
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Comment:*\n%s", event.Comment)},
			},
		},
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func isTransientAPIError(code string) bool {
	switch strings.TrimSpace(strings.ToLower(code)) {
	case "rate_limited", "ratelimited", "service_unavailable", "internal_error", "request_timeout":
		return true
	}
	return false
}
