package services

import (
	"context"
	"fmt"

	"churnguard/internal/config"
	"churnguard/internal/models"
	"churnguard/pkg/resend"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

// EmailSender is the outbound email capability the trigger pipeline
// needs: send one message, get back a provider id or an error.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html, text string) (string, error)
}

// NewEmailSender builds the configured sender implementation.
func NewEmailSender(cfg *config.Config, logger *logrus.Logger) (EmailSender, error) {
	switch cfg.Email.Provider {
	case "resend":
		client := resend.NewClient(&resend.Config{
			BaseURL: cfg.Email.Resend.BaseURL,
			APIKey:  cfg.Email.Resend.APIKey,
			From:    cfg.Email.From,
			Timeout: cfg.Email.Resend.Timeout,
		}, logger)
		return client, nil
	case "smtp":
		return NewSMTPSender(cfg.Email.SMTP, cfg.Email.From, logger), nil
	default:
		return nil, fmt.Errorf("unsupported email provider: %s", cfg.Email.Provider)
	}
}

// SenderResolver picks the outbound sender for a user. A user with a
// connected resend integration sends through their own account; anyone
// else falls back to the process-wide sender.
type SenderResolver struct {
	db       *gorm.DB
	logger   *logrus.Logger
	fallback EmailSender

	// newResend builds a sender from one integration's key. Swappable
	// in tests.
	newResend func(apiKey string) EmailSender
}

func NewSenderResolver(db *gorm.DB, cfg *config.Config, logger *logrus.Logger, fallback EmailSender) *SenderResolver {
	if logger == nil {
		logger = logrus.New()
	}
	r := &SenderResolver{db: db, logger: logger, fallback: fallback}
	r.newResend = func(apiKey string) EmailSender {
		return resend.NewClient(&resend.Config{
			BaseURL: cfg.Email.Resend.BaseURL,
			APIKey:  apiKey,
			From:    cfg.Email.From,
			Timeout: cfg.Email.Resend.Timeout,
		}, logger)
	}
	return r
}

// SenderFor returns the sender to use for one user's notifications.
func (r *SenderResolver) SenderFor(ctx context.Context, userID uint) EmailSender {
	var integ models.Integration
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND api_key <> ''", userID, "resend").
		First(&integ).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			r.logger.Warnf("email: integration lookup for user %d: %v", userID, err)
		}
		return r.fallback
	}
	return r.newResend(integ.APIKey)
}

// SMTPSender delivers through a plain SMTP relay, for deployments that
// do not use a transactional email API.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
	logger *logrus.Logger
}

func NewSMTPSender(cfg config.SMTPConfig, from string, logger *logrus.Logger) *SMTPSender {
	if logger == nil {
		logger = logrus.New()
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   from,
		logger: logger,
	}
}

// Send delivers one message. gomail has no context support, so the
// send runs in a goroutine and the result is joined with ctx.
func (s *SMTPSender) Send(ctx context.Context, to, subject, html, text string) (string, error) {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)
	if html != "" {
		m.AddAlternative("text/html", html)
	}

	id := uuid.NewString()
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send: %w", err)
		}
		s.logger.Debugf("smtp: sent message %s to %s", id, to)
		return id, nil
	}
}
