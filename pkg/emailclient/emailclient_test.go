package emailclient

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cureliah/backend/internal/logging"
)

func TestRenderer_AllTemplatesRender(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	want := []string{"booking_cancelled", "booking_confirmed", "critical_error", "new_booking_request", "payment_received"}
	got := r.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Names() = %v, want %v", got, want)
	}

	for _, name := range want {
		t.Run(name, func(t *testing.T) {
			html, err := r.Render(name, map[string]any{
				"recipient_name": "Dr Martin",
				"vacation_title": "Garde urgences",
				"amount":         "1 200,00 €",
				"message":        "boom",
			})
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if !strings.Contains(html, "Cureliah") {
				t.Errorf("layout missing from %s", name)
			}
			if strings.Contains(html, "<no value>") {
				t.Errorf("template %s leaked a missing value", name)
			}
		})
	}
}

func TestRenderer_EscapesUserContent(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	html, err := r.Render("booking_cancelled", map[string]any{"reason": "<script>alert(1)</script>"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatal("expected reason to be escaped")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Fatal("expected escaped reason in body")
	}
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	if _, err := r.Render("welcome", nil); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestNewClient_WithoutKeyLogsOnly(t *testing.T) {
	sender := NewClient(Config{}, logging.Discard())
	if _, ok := sender.(*LogSender); !ok {
		t.Fatalf("expected *LogSender, got %T", sender)
	}
	if _, err := sender.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{name: "valid", msg: Message{To: "a@example.com", Subject: "Hi"}},
		{name: "missing recipient", msg: Message{Subject: "Hi"}, wantErr: true},
		{name: "malformed recipient", msg: Message{To: "nobody", Subject: "Hi"}, wantErr: true},
		{name: "empty subject", msg: Message{To: "a@example.com"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateMessage(tt.msg); (err != nil) != tt.wantErr {
				t.Fatalf("validateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
