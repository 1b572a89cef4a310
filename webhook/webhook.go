// Package webhook posts embeds to Discord webhook endpoints via
// multiple providers.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"workshop-notifier/pkg/notifier"
)

// Client posts to Discord webhooks, one per named channel.
type Client struct {
	client   *http.Client
	logger   *slog.Logger
	channels map[string]string
}

// New creates a webhook client. channels maps a channel name to its
// full webhook URL.
func New(channels map[string]string, logger *slog.Logger) *Client {
	return &Client{
		channels: channels,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// webhookRequest is the Discord webhook execute payload.
type webhookRequest struct {
	Embeds []*notifier.Embed `json:"embeds"`
}

// Send posts embeds to the named channel. Server errors and rate
// limits are retried; any other client error fails immediately since
// resending the same payload cannot fix it.
func (c *Client) Send(ctx context.Context, channel string, embeds []*notifier.Embed) error {
	url, ok := c.channels[channel]
	if !ok || url == "" {
		return fmt.Errorf("no webhook configured for channel %q", channel)
	}

	jsonData, err := json.Marshal(webhookRequest{Embeds: embeds})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	return retry.Do(
		func() error {
			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("Webhook request failed, will retry",
					"channel", channel,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				c.logger.Warn("Webhook returned retryable status",
					"status_code", resp.StatusCode,
					"channel", channel)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			default:
				// A malformed payload stays malformed across retries.
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			}

			c.logger.Info("Webhook posted",
				"channel", channel,
				"embeds", len(embeds),
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying webhook post after error", "attempt", n, "channel", channel, "error", err)
		}),
	)
}
