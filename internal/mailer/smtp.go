package mailer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"matchbreak/internal/types"
)

// SMTPConfig holds SMTP connection parameters and addressing defaults.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// FromAddress/FromName are applied when the message carries no sender
	// override.
	FromAddress string
	FromName    string
}

// SMTPTransport delivers mail over SMTP. Each Send dials a fresh
// connection; transactional volume is low enough that connection pooling
// is not worth its failure modes.
type SMTPTransport struct {
	dialer *gomail.Dialer
	config SMTPConfig
}

// NewSMTPTransport creates an SMTP transport from the given configuration.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	return &SMTPTransport{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		config: cfg,
	}
}

// Send builds the MIME message and delivers it. SMTP has no provider
// message id, so a locally generated one is returned for correlation.
func (t *SMTPTransport) Send(ctx context.Context, input types.SendInput) (string, error) {
	// gomail does not take a context; honor cancellation before dialing.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m := gomail.NewMessage()

	from := input.From
	if from == "" {
		from = m.FormatAddress(t.config.FromAddress, t.config.FromName)
	}
	m.SetHeader("From", from)
	m.SetHeader("To", input.To)
	m.SetHeader("Subject", input.Subject)
	if input.ReplyTo != "" {
		m.SetHeader("Reply-To", input.ReplyTo)
	}
	if input.ReferenceID != "" {
		m.SetHeader("X-Matchbreak-Reference", input.ReferenceID)
	}

	m.SetBody("text/plain", input.Text)
	if input.HTML != "" {
		m.AddAlternative("text/html", input.HTML)
	}

	if err := t.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}
	return "smtp-" + uuid.New().String(), nil
}

// Compile-time assertion that SMTPTransport implements Transport.
var _ Transport = (*SMTPTransport)(nil)
