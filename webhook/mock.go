package webhook

import (
	"context"
	"log/slog"

	"workshop-notifier/pkg/notifier"
)

// Delivery is one recorded Mock send.
type Delivery struct {
	Channel string
	Embeds  []*notifier.Embed
}

// Mock records sends instead of posting, for local development and
// tests.
type Mock struct {
	logger *slog.Logger
	Sent   []Delivery
}

// NewMock creates a recording mock sender.
func NewMock(logger *slog.Logger) *Mock {
	return &Mock{logger: logger}
}

// Send logs the delivery and records it.
func (m *Mock) Send(_ context.Context, channel string, embeds []*notifier.Embed) error {
	title := ""
	if len(embeds) > 0 {
		title = embeds[0].Title
	}
	m.logger.Info("MOCK WEBHOOK",
		"channel", channel,
		"embeds", len(embeds),
		"title", title)
	m.Sent = append(m.Sent, Delivery{Channel: channel, Embeds: embeds})
	return nil
}
