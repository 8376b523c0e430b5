package notification

import (
	"context"
	"fmt"

	"workflow-service/pkg/config"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Message is a single outbound email
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Transport hands a message to a mail provider and returns the provider
// message id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SMTPTransport delivers through an SMTP relay
type SMTPTransport struct {
	client *mail.Client
}

// NewSMTPTransport creates an SMTP transport from configuration
func NewSMTPTransport(cfg *config.SMTPConfig, emailCfg *config.EmailConfig) (*SMTPTransport, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(emailCfg.SendTimeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return &SMTPTransport{client: client}, nil
}

// Send implements Transport
func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return "", fmt.Errorf("invalid sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return "", fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	m.SetMessageID()
	m.SetDate()

	if err := t.client.DialAndSendWithContext(ctx, m); err != nil {
		return "", err
	}
	return m.GetMessageID(), nil
}

// LogTransport records messages in the log instead of sending them. It is
// used when no SMTP host is configured.
type LogTransport struct {
	log *zap.Logger
}

// NewLogTransport creates a LogTransport
func NewLogTransport(log *zap.Logger) *LogTransport {
	return &LogTransport{log: log}
}

// Send implements Transport
func (t *LogTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("<%s@localhost>", uuid.NewString())
	t.log.Info("Email delivered to log",
		zap.String("message_id", id),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return id, nil
}

// NewTransport picks the SMTP transport when a host is configured and the log
// transport otherwise, wrapped in a circuit breaker either way.
func NewTransport(cfg *config.Config, log *zap.Logger) (Transport, error) {
	var inner Transport
	if cfg.SMTP.Host != "" {
		smtp, err := NewSMTPTransport(&cfg.SMTP, &cfg.Email)
		if err != nil {
			return nil, err
		}
		inner = smtp
	} else {
		log.Warn("SMTP_HOST not set, emails are written to the log")
		inner = NewLogTransport(log)
	}
	return NewBreakerTransport(inner, cfg.Email.BreakerFailures, cfg.Email.BreakerTimeout, log), nil
}
