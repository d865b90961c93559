package notify

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mentora-platform/mentora/internal/model"
)

// SMTPConfig addresses an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPDispatcher sends plain-text mail through an SMTP relay.
type SMTPDispatcher struct {
	cfg      SMTPConfig
	sendMail SendMailFunc
	now      func() time.Time
}

// NewSMTPDispatcher returns a dispatcher using smtp.SendMail.
func NewSMTPDispatcher(cfg SMTPConfig) *SMTPDispatcher {
	return &SMTPDispatcher{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}
}

// WithSendMail replaces the transport. Tests use it to capture messages.
func (d *SMTPDispatcher) WithSendMail(fn SendMailFunc) *SMTPDispatcher {
	d.sendMail = fn
	return d
}

// Send delivers msg. net/smtp has no context support, so cancellation
// abandons the in-flight send and reports ctx.Err().
func (d *SMTPDispatcher) Send(ctx context.Context, msg model.OutboundMessage) (model.DispatchResult, error) {
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return model.DispatchResult{}, fmt.Errorf("%w: header contains line break", ErrRejected)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), d.domain())
	raw := d.build(msg, messageID)

	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.sendMail(addr, auth, d.cfg.From, []string{msg.To}, raw)
	}()

	select {
	case <-ctx.Done():
		return model.DispatchResult{}, fmt.Errorf("notify: smtp send: %w", ctx.Err())
	case err := <-errCh:
		if err != nil {
			return model.DispatchResult{}, fmt.Errorf("notify: smtp send: %w", err)
		}
	}
	return model.DispatchResult{ProviderMessageID: messageID}, nil
}

func (d *SMTPDispatcher) build(msg model.OutboundMessage, messageID string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", d.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", d.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

func (d *SMTPDispatcher) domain() string {
	if _, domain, ok := strings.Cut(d.cfg.From, "@"); ok {
		return strings.TrimSuffix(domain, ">")
	}
	return d.cfg.Host
}
