package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/config"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const maxRetries = 3

// OperatorInviteEmail is the data of the operator invitation email.
type OperatorInviteEmail struct {
	OperatorName  string
	OperatorEmail string
	OperatorRole  string
	ManagerName   string
	InviteURL     string
}

// EmailService defines the interface for sending emails
type EmailService interface {
	SendOperatorInvite(ctx context.Context, msg OperatorInviteEmail) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type emailServiceImpl struct {
	cfg        config.SMTPConfig
	templates  *template.Template
	logger     *zap.Logger
	send       sendFunc
	retryDelay time.Duration
}

// NewEmailService creates a new email service instance
func NewEmailService(cfg config.SMTPConfig, logger *zap.Logger) (EmailService, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &emailServiceImpl{
		cfg:        cfg,
		templates:  tmpl,
		logger:     logger,
		send:       smtp.SendMail,
		retryDelay: time.Second,
	}, nil
}

type operatorInviteData struct {
	OperatorName  string
	OperatorEmail string
	RoleLabel     string
	ManagerName   string
	InviteURL     string
}

func roleLabel(role string) string {
	switch role {
	case "manager":
		return "gestor"
	case "operator", "":
		return "operador"
	default:
		return role
	}
}

// SendOperatorInvite renders and sends the invite email.
func (s *emailServiceImpl) SendOperatorInvite(ctx context.Context, msg OperatorInviteEmail) error {
	data := operatorInviteData{
		OperatorName:  msg.OperatorName,
		OperatorEmail: msg.OperatorEmail,
		RoleLabel:     roleLabel(msg.OperatorRole),
		ManagerName:   msg.ManagerName,
		InviteURL:     msg.InviteURL,
	}
	if data.ManagerName == "" {
		data.ManagerName = "Seu gestor"
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, "operator_invite.html", data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return s.sendHTML(ctx, msg.OperatorEmail, "Você foi convidado para o Lead Flow", body.String())
}

func (s *emailServiceImpl) sendHTML(ctx context.Context, to, subject, htmlBody string) error {
	if s.cfg.Host == "" {
		s.logger.Warn("SMTP not configured, skipping email send", zap.String("to", to), zap.String("subject", subject))
		return nil
	}

	from := s.cfg.From

	headers := fmt.Sprintf("From: %s <%s>\r\n", s.cfg.FromName, from)
	headers += fmt.Sprintf("To: %s\r\n", to)
	headers += fmt.Sprintf("Subject: %s\r\n", subject)
	headers += "MIME-Version: 1.0\r\n"
	headers += "Content-Type: text/html; charset=\"UTF-8\"\r\n"
	headers += "\r\n"

	message := []byte(headers + htmlBody)

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := s.send(addr, auth, from, []string{to}, message)
		if err == nil {
			s.logger.Info("email sent", zap.String("to", to), zap.String("subject", subject), zap.Int("attempt", attempt))
			return nil
		}

		lastErr = err
		s.logger.Error("failed to send email",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)

		// 1s, 2s, 4s
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("send email: %w", ctx.Err())
			case <-time.After(time.Duration(1<<(attempt-1)) * s.retryDelay):
			}
		}
	}

	return fmt.Errorf("failed to send email after %d attempts: %w", maxRetries, lastErr)
}
