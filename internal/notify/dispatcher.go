package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/nerrad567/incidentdesk/internal/metrics"
)

// Defaults used when the config leaves them unset.
const (
	DefaultQueueSize   = 64
	DefaultSendTimeout = 15 * time.Second
)

// Dispatcher renders account emails and delivers them on a background
// worker. Send methods never block and never fail the caller.
type Dispatcher struct {
	sender  Sender
	queue   chan Message
	timeout time.Duration
	logger  *slog.Logger

	baseURL         string
	verificationTTL time.Duration
	resetTTL        time.Duration
}

// DispatcherOptions carries values that end up in rendered emails.
type DispatcherOptions struct {
	QueueSize       int
	SendTimeout     time.Duration
	BaseURL         string
	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

// NewDispatcher creates a Dispatcher. Call Run to start delivery.
func NewDispatcher(sender Sender, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	return &Dispatcher{
		sender:          sender,
		queue:           make(chan Message, opts.QueueSize),
		timeout:         opts.SendTimeout,
		logger:          logger.With("component", "notify"),
		baseURL:         opts.BaseURL,
		verificationTTL: opts.VerificationTTL,
		resetTTL:        opts.ResetTTL,
	}
}

// SendVerificationCode queues a verification email.
func (d *Dispatcher) SendVerificationCode(email, code string) {
	msg, err := VerificationMessage(email, code, d.verificationTTL)
	d.enqueue(msg, err)
}

// SendPasswordReset queues a password reset email.
func (d *Dispatcher) SendPasswordReset(email, token string) {
	msg, err := PasswordResetMessage(email, token, d.baseURL, d.resetTTL)
	d.enqueue(msg, err)
}

func (d *Dispatcher) enqueue(msg Message, renderErr error) {
	if renderErr != nil {
		d.logger.Error("rendering notification failed", "error", renderErr)
		metrics.Notifications.WithLabelValues(msg.Kind, "failed").Inc()
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.logger.Warn("notification queue full, dropping", "kind", msg.Kind)
		metrics.Notifications.WithLabelValues(msg.Kind, "dropped").Inc()
	}
}

// Run delivers queued messages until ctx is cancelled, then drains the
// queue before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case msg := <-d.queue:
			d.deliver(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-d.queue:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, msg); err != nil {
		d.logger.Warn("notification delivery failed", "kind", msg.Kind, "error", err)
		metrics.Notifications.WithLabelValues(msg.Kind, "failed").Inc()
		return
	}
	d.logger.Debug("notification sent", "kind", msg.Kind)
	metrics.Notifications.WithLabelValues(msg.Kind, "sent").Inc()
}
