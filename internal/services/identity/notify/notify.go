// Package notify delivers guest conversion invites by email.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/guest"
	"github.com/golang/glog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Config holds mail delivery settings.
type Config struct {
	SendGridAPIKey string `env:"LIVE_SENDGRID_API_KEY"`
	From           string `env:"LIVE_MAIL_FROM" envDefault:"checkin@localhost"`
	FromName       string `env:"LIVE_MAIL_FROM_NAME" envDefault:"Event Check-in"`
	LinkBaseURL    string `env:"LIVE_MAGIC_LINK_BASE_URL" envDefault:"http://localhost:8080/convert"`
}

// New returns a SendGrid notifier, or a notifier that only logs when no API
// key is configured.
func New(cfg Config) guest.Notifier {
	if strings.TrimSpace(cfg.SendGridAPIKey) == "" {
		return LogNotifier{}
	}
	return NewSendGrid(sendgrid.NewSendClient(cfg.SendGridAPIKey), cfg)
}

type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGrid sends invites through the SendGrid v3 API.
type SendGrid struct {
	client sender
	cfg    Config
}

// NewSendGrid wraps a SendGrid client.
func NewSendGrid(client sender, cfg Config) *SendGrid {
	return &SendGrid{client: client, cfg: cfg}
}

const invitePlain = `Hi{{if .FirstName}} {{.FirstName}}{{end}},

Thanks for checking in. Finish creating your account to keep your attendance
history:

{{.Link}}

This link expires {{.Expires}}.
`

var invitePlainTemplate = template.Must(template.New("invite").Parse(invitePlain))

// SendConversionInvite emails the conversion link for invite.
func (s *SendGrid) SendConversionInvite(ctx context.Context, invite guest.Invite) error {
	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(s.cfg.FromName, s.cfg.From))
	message.Subject = "Finish creating your account"

	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail(invite.FirstName, invite.Email))
	message.AddPersonalizations(personalization)

	body, err := renderInvite(s.cfg.LinkBaseURL, invite)
	if err != nil {
		return err
	}
	message.AddContent(mail.NewContent("text/plain", body))

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("send invite through SendGrid: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("SendGrid returned %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogNotifier logs invites instead of sending them.
type LogNotifier struct{}

// SendConversionInvite logs invite.
func (LogNotifier) SendConversionInvite(_ context.Context, invite guest.Invite) error {
	glog.Infof("conversion invite for guest %s to %s (expires %s); mail delivery not configured",
		invite.GuestID, invite.Email, invite.ExpiresAt.Format(time.RFC3339))
	return nil
}

// InviteLink returns the link a guest follows to finish conversion.
func InviteLink(base string, invite guest.Invite) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse invite base url: %w", err)
	}
	q := u.Query()
	q.Set("email", invite.Email)
	q.Set("guest", invite.GuestID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func renderInvite(base string, invite guest.Invite) (string, error) {
	link, err := InviteLink(base, invite)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = invitePlainTemplate.Execute(&buf, struct {
		FirstName string
		Link      string
		Expires   string
	}{
		FirstName: invite.FirstName,
		Link:      link,
		Expires:   invite.ExpiresAt.UTC().Format("Jan 2, 2006 15:04 MST"),
	})
	if err != nil {
		return "", fmt.Errorf("render invite: %w", err)
	}
	return buf.String(), nil
}
