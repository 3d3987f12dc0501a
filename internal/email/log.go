package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// LogSender writes messages to the logger instead of delivering them.
// Used in development when no SMTP host is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, email *Email) (string, error) {
	s.logger.Info("email: not sent (log sender)",
		"to", email.To,
		"from", email.From,
		"subject", email.Subject,
		"body", email.TextBody,
	)
	return fmt.Sprintf("log-%d", time.Now().UnixNano()), nil
}
