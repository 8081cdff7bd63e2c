package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net/smtp"
	"path/filepath"

	"github.com/guildgate/backend/internal/config"
	"github.com/guildgate/backend/internal/verifycode"
)

type EmailService struct {
	cfg       *config.Config
	templates map[string]*template.Template
}

func NewEmailService(cfg *config.Config) *EmailService {
	service := &EmailService{
		cfg:       cfg,
		templates: make(map[string]*template.Template),
	}

	// Load email templates
	service.loadTemplates()

	return service
}

// loadTemplates loads all email templates
func (s *EmailService) loadTemplates() {
	templateFiles := []string{
		"verification_code.html",
	}

	for _, file := range templateFiles {
		path := filepath.Join("templates", file)
		tmpl, err := template.ParseFiles(path)
		if err != nil {
			fmt.Printf("Failed to load template %s: %v\n", file, err)
			continue
		}
		s.templates[file] = tmpl
	}
}

// SendVerificationCode sends the one-time code to the candidate
// address. The code is revealed exactly here, on its way out.
func (s *EmailService) SendVerificationCode(ctx context.Context, to string, code verifycode.Code, guildName string) error {
	data := map[string]interface{}{
		"Code":      code.Reveal(),
		"GuildName": guildName,
	}

	subject := fmt.Sprintf("Your verification code for %s", guildName)
	return s.sendEmail(to, subject, "verification_code.html", data)
}

// sendEmail sends an email using the specified template
func (s *EmailService) sendEmail(to, subject, templateName string, data interface{}) error {
	tmpl, exists := s.templates[templateName]
	if !exists {
		return fmt.Errorf("template %s not found", templateName)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	from := fmt.Sprintf("%s <%s>", s.cfg.SMTPFromName, s.cfg.SMTPFrom)

	message := fmt.Sprintf("From: %s\r\n", from)
	message += fmt.Sprintf("To: %s\r\n", to)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += "MIME-Version: 1.0\r\n"
	message += "Content-Type: text/html; charset=\"UTF-8\"\r\n"
	message += "\r\n"
	message += body.String()

	return s.sendSMTP(to, []byte(message))
}

// sendSMTP sends an email via SMTP
func (s *EmailService) sendSMTP(to string, message []byte) error {
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	// For TLS connection (port 465)
	if s.cfg.SMTPPort == 465 {
		tlsConfig := &tls.Config{
			ServerName: s.cfg.SMTPHost,
		}

		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		defer conn.Close()

		client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
		if err != nil {
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}
		defer client.Close()

		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}

		if err := client.Mail(s.cfg.SMTPFrom); err != nil {
			return err
		}
		if err := client.Rcpt(to); err != nil {
			return err
		}

		w, err := client.Data()
		if err != nil {
			return err
		}
		_, err = w.Write(message)
		if err != nil {
			return err
		}
		err = w.Close()
		if err != nil {
			return err
		}

		return client.Quit()
	}

	// For STARTTLS connection (port 587)
	return smtp.SendMail(addr, auth, s.cfg.SMTPFrom, []string{to}, message)
}
