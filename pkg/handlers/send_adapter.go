package handlers

import (
	"context"
	"log/slog"
)

// LogSendAdapter stands in where no provider adapter is configured. It only
// logs; real channels plug in their own protocol.SendAdapter.
type LogSendAdapter struct {
	logger *slog.Logger
}

func NewLogSendAdapter(logger *slog.Logger) *LogSendAdapter {
	return &LogSendAdapter{logger: logger.With("module", "send_adapter")}
}

func (a *LogSendAdapter) Send(ctx context.Context, channel, templateID, customerID string) error {
	a.logger.InfoContext(ctx, "Sending message",
		"channel", channel, "template_id", templateID, "customer_id", customerID)

	return nil
}
