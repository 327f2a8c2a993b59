package notifier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/logging"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type fakeMailer struct {
	jobs []domain.EmailJob
	err  error
}

func (m *fakeMailer) SendJob(ctx context.Context, job domain.EmailJob) (string, error) {
	m.jobs = append(m.jobs, job)
	if m.err != nil {
		return "", m.err
	}
	return "msg_1", nil
}

func newTestConsumer(mailer Mailer) *EmailConsumer {
	c := NewEmailConsumer(mailer, "https://app.cureliah.test", logging.Discard())
	c.sleep = func(time.Duration) {}
	return c
}

func changeBody(t *testing.T, op domain.ChangeOp, typ domain.NotificationType) ([]byte, uuid.UUID, uuid.UUID) {
	t.Helper()
	userID, bookingID := uuid.New(), uuid.New()
	body, err := json.Marshal(domain.NotificationChange{
		Op:     op,
		UserID: userID,
		Notification: &domain.Notification{
			ID:               uuid.New(),
			UserID:           userID,
			Title:            "Réservation confirmée",
			Message:          "Votre réservation a été acceptée.",
			Type:             typ,
			RelatedBookingID: &bookingID,
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body, userID, bookingID
}

func TestHandleNotificationCreated_SendsMappedTemplate(t *testing.T) {
	mailer := &fakeMailer{}
	c := newTestConsumer(mailer)
	body, userID, bookingID := changeBody(t, domain.ChangeInsert, domain.NotificationBookingAccepted)

	if !c.HandleNotificationCreated(body) {
		t.Fatal("expected ack")
	}
	if len(mailer.jobs) != 1 {
		t.Fatalf("sent %d jobs, want 1", len(mailer.jobs))
	}
	job := mailer.jobs[0]
	if job.Template != domain.EmailBookingConfirmed || job.UserID == nil || *job.UserID != userID {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Data["booking_id"] != bookingID.String() || job.Data["dashboard_url"] != "https://app.cureliah.test/dashboard" {
		t.Fatalf("unexpected job data: %+v", job.Data)
	}
}

func TestHandleNotificationCreated_SkipsUnmappedTypes(t *testing.T) {
	tests := []struct {
		name string
		op   domain.ChangeOp
		typ  domain.NotificationType
	}{
		{name: "no email counterpart", op: domain.ChangeInsert, typ: domain.NotificationUrgentResponse},
		{name: "not an insert", op: domain.ChangeUpdate, typ: domain.NotificationBookingAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &fakeMailer{}
			body, _, _ := changeBody(t, tt.op, tt.typ)
			if !newTestConsumer(mailer).HandleNotificationCreated(body) {
				t.Fatal("expected ack")
			}
			if len(mailer.jobs) != 0 {
				t.Fatalf("unexpected jobs: %+v", mailer.jobs)
			}
		})
	}
}

func TestHandleEmailJob_AckPolicy(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		wantAck bool
	}{
		{name: "sent", body: `{"template":"critical_error","to":"ops@cureliah.test"}`, wantAck: true},
		{name: "malformed", body: `{`, wantAck: true},
		{name: "no recipient", body: `{"template":"critical_error"}`, wantAck: true},
		{name: "unknown template", body: `{"template":"nope","to":"ops@cureliah.test"}`, err: domain.ErrUnknownTemplate, wantAck: true},
		{name: "unknown user", body: `{"template":"payment_received","user_id":"` + uuid.NewString() + `"}`, err: fmt.Errorf("resolve: %w", domain.ErrNotFound), wantAck: true},
		{name: "provider down", body: `{"template":"critical_error","to":"ops@cureliah.test"}`, err: fmt.Errorf("%w: %w", domain.ErrUpstream, errors.New("503")), wantAck: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConsumer(&fakeMailer{err: tt.err})
			if got := c.HandleEmailJob([]byte(tt.body)); got != tt.wantAck {
				t.Fatalf("ack = %v, want %v", got, tt.wantAck)
			}
		})
	}
}

func TestBindings(t *testing.T) {
	b := newTestConsumer(&fakeMailer{}).Bindings()
	for _, key := range []string{domain.RoutingNotificationCreated, domain.RoutingEmailSend} {
		if b[key] == nil {
			t.Errorf("missing binding for %s", key)
		}
	}
}
