package services

import (
	"crypto/tls"
	"fmt"
	"net/smtp"

	"github.com/docuflow/backend/internal/config"
)

// EmailService sends notification emails over SMTP. All sends are best
// effort: callers log failures and move on.
type EmailService struct {
	cfg *config.Config
}

func NewEmailService(cfg *config.Config) *EmailService {
	return &EmailService{cfg: cfg}
}

// Configured reports whether SMTP settings are present
func (s *EmailService) Configured() bool {
	return s.cfg.SMTPHost != ""
}

// SendEmail sends a single email to one recipient
func (s *EmailService) SendEmail(to, subject, body string, isHTML bool) error {
	if !s.Configured() {
		return fmt.Errorf("SMTP not configured")
	}

	fromAddr := s.cfg.SMTPFrom
	if fromAddr == "" {
		fromAddr = s.cfg.SMTPUsername
	}
	if fromAddr == "" {
		return fmt.Errorf("SMTP sender address not configured")
	}

	contentType := "text/plain"
	if isHTML {
		contentType = "text/html"
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: %s; charset=UTF-8\r\n"+
		"\r\n"+
		"%s", fromAddr, to, subject, contentType, body)

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" && s.cfg.SMTPPassword != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}

	switch s.cfg.SMTPPort {
	case 465:
		return s.sendWithTLS(addr, fromAddr, auth, to, []byte(msg))
	case 587, 25:
		return s.sendWithStartTLS(addr, fromAddr, auth, to, []byte(msg))
	default:
		return smtp.SendMail(addr, auth, fromAddr, []string{to}, []byte(msg))
	}
}

// sendWithTLS sends over a direct TLS connection (port 465)
func (s *EmailService) sendWithTLS(addr, fromAddr string, auth smtp.Auth, to string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: s.cfg.SMTPHost,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("TLS dial failed: %v", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("SMTP client failed: %v", err)
	}
	defer client.Close()

	return s.deliver(client, fromAddr, auth, to, msg)
}

// sendWithStartTLS upgrades a plain connection with STARTTLS (ports 587/25)
func (s *EmailService) sendWithStartTLS(addr, fromAddr string, auth smtp.Auth, to string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("SMTP dial failed: %v", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("HELLO failed: %v", err)
	}

	tlsConfig := &tls.Config{
		ServerName: s.cfg.SMTPHost,
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("STARTTLS failed: %v", err)
	}

	return s.deliver(client, fromAddr, auth, to, msg)
}

func (s *EmailService) deliver(client *smtp.Client, fromAddr string, auth smtp.Auth, to string, msg []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %v", err)
		}
	}

	if err := client.Mail(fromAddr); err != nil {
		return fmt.Errorf("MAIL FROM failed: %v", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO failed: %v", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %v", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("Close failed: %v", err)
	}

	return client.Quit()
}
