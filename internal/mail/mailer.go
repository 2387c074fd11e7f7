// Package mail delivers the invitation sent to newly provisioned users.
package mail

import (
	"context"

	"github.com/djcrm/crm/internal/config"
	"github.com/djcrm/crm/pkg/logger"
)

const (
	InviteSubject = "You are invited to join"
	InviteBody    = "You were added as a user on DJCRM. Please come login to start working."
)

type Mailer interface {
	SendInvite(ctx context.Context, to string) error
}

// New returns the SES mailer when delivery is enabled, otherwise a mailer
// that only logs.
func New(ctx context.Context, cfg config.MailConfig) (Mailer, error) {
	if !cfg.Enabled {
		logger.Info("mail_disabled", map[string]interface{}{
			"from": cfg.From,
		})
		return NoopMailer{From: cfg.From}, nil
	}
	return NewSESMailer(ctx, cfg)
}

// NoopMailer records invitations in the log without sending them.
type NoopMailer struct {
	From string
}

func (m NoopMailer) SendInvite(_ context.Context, to string) error {
	logger.Info("mail_invite_skipped", map[string]interface{}{
		"to":      to,
		"from":    m.From,
		"subject": InviteSubject,
	})
	return nil
}
