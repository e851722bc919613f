// Package mail sends notification email over SMTP. It implements
// notify.Mailer; retries live in the queue, not here.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// TLS mode: "starttls" (default), "implicit" or "none".
	TLS     string
	Timeout time.Duration
}

type Sender struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("mail: smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("mail: invalid smtp port %d", cfg.Port)
	}
	if err := validateAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("mail: from address: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	switch cfg.TLS {
	case "":
		cfg.TLS = "starttls"
	case "starttls", "implicit", "none":
	default:
		return nil, fmt.Errorf("mail: unknown tls mode %q", cfg.TLS)
	}
	return &Sender{cfg: cfg, log: log.With().Str("component", "mail").Logger()}, nil
}

// permanentError marks failures retrying cannot fix: rejected addresses and
// 5xx SMTP responses. The queue drops these without burning retries.
type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// classify wraps an SMTP conversation error, tagging 5xx responses permanent.
// Dial failures, timeouts and 4xx responses stay transient.
func classify(stage string, err error) error {
	var tp *textproto.Error
	if errors.As(err, &tp) && tp.Code >= 500 {
		return &permanentError{fmt.Errorf("mail: %s: %w", stage, err)}
	}
	return fmt.Errorf("mail: %s: %w", stage, err)
}

// Send delivers one plain-text message. Duplicate delivery on retry after an
// ambiguous failure is accepted.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if err := validateAddress(to); err != nil {
		return &permanentError{fmt.Errorf("mail: recipient: %w", err)}
	}

	msg := s.buildMessage(to, subject, body)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	dialer := &net.Dialer{}

	var conn net.Conn
	var err error
	if s.cfg.TLS == "implicit" {
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.cfg.Host}}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("mail: dial %s: %w", addr, err)
	}
	defer conn.Close()

	// The SMTP conversation itself honors the timeout via a write/read
	// deadline on the connection.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("mail: smtp handshake: %w", err)
	}
	defer client.Close()

	if s.cfg.TLS == "starttls" {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return fmt.Errorf("mail: server does not support STARTTLS")
		}
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("mail: starttls: %w", err)
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return classify("auth", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return classify("MAIL FROM", err)
	}
	if err := client.Rcpt(to); err != nil {
		return classify("RCPT TO", err)
	}
	w, err := client.Data()
	if err != nil {
		return classify("DATA", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		_ = w.Close()
		return fmt.Errorf("mail: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return classify("close body", err)
	}
	if err := client.Quit(); err != nil {
		// Message was accepted; a failed QUIT is not a delivery failure.
		s.log.Debug().Err(err).Msg("smtp quit failed after accepted message")
	}
	return nil
}

func (s *Sender) buildMessage(to, subject, body string) string {
	var b strings.Builder
	fromName := s.cfg.FromName
	if fromName == "" {
		fromName = "Room Scheduler"
	}
	fmt.Fprintf(&b, "From: %s <%s>\r\n", fromName, s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.String()
}

// sanitizeHeader strips CR/LF to block header injection through user-supplied
// reservation fields that end up in subjects.
func sanitizeHeader(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	return strings.ReplaceAll(v, "\n", " ")
}

func validateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return fmt.Errorf("malformed address %q", addr)
	}
	if strings.ContainsAny(addr, " \t\r\n") {
		return fmt.Errorf("malformed address %q", addr)
	}
	return nil
}
