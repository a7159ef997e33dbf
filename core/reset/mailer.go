package reset

import (
	"context"

	"MusicFlow/logger"
)

// Mail is an outgoing message.
type Mail struct {
	To      string
	Subject string
	Body    string
	// HTML is an optional alternative body.
	HTML    string
}

// Mailer delivers mail.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// LogMailer writes mail to the log instead of delivering it.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, m Mail) error {
	logger.Info("[Mail] 邮件已记录(未实际发送)",
		logger.String("to", m.To),
		logger.String("subject", m.Subject),
		logger.String("body", m.Body),
		logger.Int("htmlBytes", len(m.HTML)))
	return nil
}
