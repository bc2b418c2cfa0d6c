package notify

import (
	"context"
	"fmt"
	"net/http"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/logger"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	defaultHost = "https://api.sendgrid.com"
	endpoint    = "/v3/mail/send"
)

// Notifier delivers a run summary to the administrators.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Nop is used when notifications are disabled.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

type SendGrid struct {
	key        string
	host       string
	from       *sgmail.Email
	to         []*sgmail.Email
	subjPrefix string
	log        zerolog.Logger
}

// New returns a SendGrid notifier, or Nop when notifications are off or
// nobody is listed to receive them.
func New(cfg config.NotifyConfig, appName string) Notifier {
	if !cfg.Enabled || len(cfg.Admins) == 0 {
		return Nop{}
	}
	return NewSendGrid(cfg, appName, defaultHost)
}

func NewSendGrid(cfg config.NotifyConfig, appName, host string) *SendGrid {
	fromName := cfg.FromName
	if fromName == "" {
		fromName = appName
	}
	to := make([]*sgmail.Email, 0, len(cfg.Admins))
	for _, addr := range cfg.Admins {
		to = append(to, sgmail.NewEmail("", addr))
	}
	return &SendGrid{
		key:        cfg.APIKey,
		host:       host,
		from:       sgmail.NewEmail(fromName, cfg.FromEmail),
		to:         to,
		subjPrefix: "[" + appName + "] ",
		log:        logger.Component("notify"),
	}
}

func (s *SendGrid) prepare(subject, body string) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + subject
	p.AddTos(s.to...)

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", body))
	return m
}

func (s *SendGrid) Notify(ctx context.Context, subject, body string) error {
	req := sendgrid.GetRequest(s.key, endpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(subject, body))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: HTTP %d: %s", res.StatusCode, res.Body)
	}

	s.log.Debug().Int("recipients", len(s.to)).Str("subject", subject).Msg("Summary e-mail sent")
	return nil
}
