package messaging

import (
	"context"

	"github.com/ternarybob/arbor"
)

// LogMessenger writes replies to the log instead of sending them. It is
// used when no SMS provider is configured.
type LogMessenger struct {
	logger arbor.ILogger
}

func NewLogMessenger(logger arbor.ILogger) *LogMessenger {
	return &LogMessenger{logger: logger}
}

func (m *LogMessenger) Send(_ context.Context, to, text string) error {
	m.logger.Info().Str("to", to).Str("text", text).Msg("SMS reply (not sent)")
	return nil
}
