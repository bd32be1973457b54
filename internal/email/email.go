// Package email delivers sign-in codes over SMTP.
package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var otpTemplate = template.Must(template.ParseFS(templateFS, "templates/request_otp.html"))

const otpSubject = "Verify your Kharon Pay account"

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type mailClient interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Service sends transactional email.
type Service struct {
	cfg    Config
	client mailClient
}

// NewService creates a new email service. No connection is made until
// the first send.
func NewService(cfg Config) (*Service, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}
	if cfg.FromName == "" {
		cfg.FromName = "Kharon Pay"
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(10 * time.Second),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating mail client: %w", err)
	}

	return &Service{cfg: cfg, client: client}, nil
}

// SendOTP emails code to the given address.
func (s *Service) SendOTP(ctx context.Context, to string, code int) error {
	msg, err := s.otpMessage(to, code)
	if err != nil {
		return err
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}

func (s *Service) otpMessage(to string, code int) (*mail.Msg, error) {
	var body bytes.Buffer
	err := otpTemplate.Execute(&body, struct {
		Code             int
		ExpiresInMinutes int
	}{
		Code:             code,
		ExpiresInMinutes: int(domain.OTPLifetime / time.Minute),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering otp email: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
		return nil, fmt.Errorf("setting from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}
	msg.Subject(otpSubject)
	msg.SetBodyString(mail.TypeTextHTML, body.String())

	return msg, nil
}
