package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// LogEmailSender writes outbound email to the log instead of a provider.
// It is the default until an ESP integration is configured.
type LogEmailSender struct {
	Logger zerolog.Logger
}

func (s LogEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().
		Str("channel", string(ChannelEmail)).
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("outbound notification")
	return nil
}

// LogSMSSender writes outbound SMS to the log instead of a provider.
type LogSMSSender struct {
	Logger zerolog.Logger
}

func (s LogSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.Logger.Info().
		Str("channel", string(ChannelSMS)).
		Str("to", to).
		Str("body", body).
		Msg("outbound notification")
	return nil
}
