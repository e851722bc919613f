package mail

import (
	"errors"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/room-scheduler/internal/notify"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"}, true},
		{"missing host", Config{Port: 587, From: "noreply@example.com"}, false},
		{"bad port", Config{Host: "smtp.example.com", Port: 0, From: "noreply@example.com"}, false},
		{"bad from", Config{Host: "smtp.example.com", Port: 587, From: "not-an-address"}, false},
		{"bad tls mode", Config{Host: "smtp.example.com", Port: 587, From: "a@b.c", TLS: "maybe"}, false},
		{"implicit tls", Config{Host: "smtp.example.com", Port: 465, From: "a@b.c", TLS: "implicit"}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg, zerolog.Nop())
			if (err == nil) != tt.ok {
				t.Fatalf("New(%+v) err = %v, want ok=%v", tt.cfg, err, tt.ok)
			}
		})
	}
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Host: "smtp.example.com", Port: 587, From: "noreply@example.com", FromName: "Rooms", Timeout: time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	msg := s.buildMessage("ada@example.com", "Reservation confirmed", "Hello Ada,\nSee you soon.")

	header, body, ok := strings.Cut(msg, "\r\n\r\n")
	if !ok {
		t.Fatal("message has no header/body separator")
	}
	for _, want := range []string{
		"From: Rooms <noreply@example.com>",
		"To: ada@example.com",
		"Subject: Reservation confirmed",
		"Content-Type: text/plain; charset=UTF-8",
	} {
		if !strings.Contains(header, want) {
			t.Errorf("header missing %q:\n%s", want, header)
		}
	}
	if !strings.Contains(body, "Hello Ada,\r\nSee you soon.") {
		t.Errorf("body not CRLF-normalized: %q", body)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	perm := classify("RCPT TO", &textproto.Error{Code: 550, Msg: "no such user"})
	var pe notify.PermanentError
	if !errors.As(perm, &pe) || !pe.Permanent() {
		t.Fatalf("5xx response not classified permanent: %v", perm)
	}

	transient := classify("RCPT TO", &textproto.Error{Code: 451, Msg: "try again later"})
	pe = nil
	if errors.As(transient, &pe) {
		t.Fatalf("4xx response classified permanent: %v", transient)
	}

	dial := classify("dial", errors.New("connection refused"))
	pe = nil
	if errors.As(dial, &pe) {
		t.Fatalf("network error classified permanent: %v", dial)
	}
}

func TestSanitizeHeaderBlocksInjection(t *testing.T) {
	t.Parallel()
	got := sanitizeHeader("hello\r\nBcc: evil@example.com")
	if strings.ContainsAny(got, "\r\n") {
		t.Fatalf("sanitized header still contains CR/LF: %q", got)
	}
}

func TestValidateAddress(t *testing.T) {
	t.Parallel()
	good := []string{"a@b.c", "first.last@example.co.uk"}
	bad := []string{"", "nodomain@", "@nouser", "spaces in@example.com", "plain"}
	for _, a := range good {
		if err := validateAddress(a); err != nil {
			t.Errorf("validateAddress(%q) = %v, want nil", a, err)
		}
	}
	for _, a := range bad {
		if err := validateAddress(a); err == nil {
			t.Errorf("validateAddress(%q) = nil, want error", a)
		}
	}
}
