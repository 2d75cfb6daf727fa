package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mail "github.com/wneessen/go-mail"

	"github.com/nerrad567/incidentdesk/internal/infrastructure/config"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/mqtt"
)

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. It is
// the development transport; it logs the secret so codes can be copied.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs msg at Info.
func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Logger.Info("email not sent (log transport)",
		"kind", msg.Kind,
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}

// SMTPSender delivers through an SMTP relay.
type SMTPSender struct {
	from string
	opts []mail.Option
	host string
}

// NewSMTPSender builds a sender from the mail section. Authentication is
// enabled when a username is configured.
func NewSMTPSender(from string, cfg config.SMTPConfig, timeout time.Duration) *SMTPSender {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.TLS {
		opts[2] = mail.WithTLSPolicy(mail.TLSMandatory)
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return &SMTPSender{from: from, opts: opts, host: cfg.Host}
}

// buildMsg converts msg into a multipart/alternative email.
func (s *SMTPSender) buildMsg(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}

// Send dials the relay and delivers msg.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := s.buildMsg(msg)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.host, s.opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("sending via smtp: %w", err)
	}
	return nil
}

// Publisher is the part of the MQTT client the outbox needs.
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, v any) error
}

// MQTTSender hands messages to an external mail bridge through the broker.
type MQTTSender struct {
	pub   Publisher
	topic string
	from  string
}

// outboxJob is the JSON published on the outbox topic.
type outboxJob struct {
	From string `json:"from"`
	Message
	QueuedAt time.Time `json:"queued_at"`
}

// NewMQTTSender publishes to topic, or the default outbox topic when empty.
func NewMQTTSender(pub Publisher, topic, from string) *MQTTSender {
	return &MQTTSender{pub: pub, topic: mqtt.Topics{}.MailOutbox(topic), from: from}
}

// Send publishes msg as a JSON job.
func (s *MQTTSender) Send(ctx context.Context, msg Message) error {
	job := outboxJob{From: s.from, Message: msg, QueuedAt: time.Now().UTC()}
	if err := s.pub.PublishJSON(ctx, s.topic, job); err != nil {
		return fmt.Errorf("publishing to mail outbox: %w", err)
	}
	return nil
}
