package app

import (
	"context"
	"testing"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/logging"
	"github.com/goccy/go-json"
)

func TestReportError(t *testing.T) {
	tests := []struct {
		name         string
		alertEmail   string
		in           ErrorReportInput
		wantSeverity domain.Severity
		wantEmail    bool
	}{
		{
			name:         "defaults to medium",
			alertEmail:   "ops@cureliah.test",
			in:           ErrorReportInput{Message: "TypeError: x is undefined"},
			wantSeverity: domain.SeverityMedium,
		},
		{
			name:         "critical queues an alert",
			alertEmail:   "ops@cureliah.test",
			in:           ErrorReportInput{Message: "Payment page crashed", Severity: domain.SeverityCritical, URL: "/payment"},
			wantSeverity: domain.SeverityCritical,
			wantEmail:    true,
		},
		{
			name:         "critical without alert address",
			in:           ErrorReportInput{Message: "Payment page crashed", Severity: domain.SeverityCritical},
			wantSeverity: domain.SeverityCritical,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			svc := NewMonitoringService(st, NewEventWriter(""), tt.alertEmail, 0, logging.Discard())

			report, err := svc.ReportError(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("ReportError() error = %v", err)
			}
			if report.Severity != tt.wantSeverity {
				t.Fatalf("severity = %s, want %s", report.Severity, tt.wantSeverity)
			}
			if len(st.errorReports) != 1 {
				t.Fatalf("stored %d reports", len(st.errorReports))
			}

			gotEmail := len(st.outbox) == 1 && st.outbox[0].RoutingKey == domain.RoutingEmailSend
			if gotEmail != tt.wantEmail {
				t.Fatalf("email queued = %v, want %v (outbox %v)", gotEmail, tt.wantEmail, st.outboxKeys())
			}
			if !gotEmail {
				return
			}
			var job domain.EmailJob
			if err := json.Unmarshal(st.outbox[0].Payload, &job); err != nil {
				t.Fatalf("decode job: %v", err)
			}
			if job.Template != domain.EmailCriticalError || job.To != tt.alertEmail || job.Data["url"] != "/payment" {
				t.Fatalf("unexpected job: %+v", job)
			}
		})
	}
}

func TestReportError_ClientTimestampKept(t *testing.T) {
	st := newMemStore()
	svc := NewMonitoringService(st, NewEventWriter(""), "", 0, logging.Discard())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	report, err := svc.ReportError(context.Background(), ErrorReportInput{Message: "boom", Timestamp: &at})
	if err != nil {
		t.Fatalf("ReportError() error = %v", err)
	}
	if !report.OccurredAt.Equal(at) {
		t.Fatalf("occurred_at = %s, want %s", report.OccurredAt, at)
	}
}

func TestReportError_Validation(t *testing.T) {
	svc := NewMonitoringService(newMemStore(), NewEventWriter(""), "", 0, logging.Discard())
	tests := []struct {
		name string
		in   ErrorReportInput
	}{
		{name: "missing message", in: ErrorReportInput{}},
		{name: "unknown severity", in: ErrorReportInput{Message: "x", Severity: "fatal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ReportError(context.Background(), tt.in)
			if _, ok := domain.IsValidation(err); !ok {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRecordPerformance(t *testing.T) {
	st := newMemStore()
	svc := NewMonitoringService(st, NewEventWriter(""), "", 0, logging.Discard())

	m, err := svc.RecordPerformance(context.Background(), PerformanceInput{Name: "LCP", Value: 1830.5, URL: "/"})
	if err != nil {
		t.Fatalf("RecordPerformance() error = %v", err)
	}
	if m.MetricLabel() != "LCP" || len(st.perfMetrics) != 1 {
		t.Fatalf("unexpected sample: %+v", m)
	}
	if _, err := svc.RecordPerformance(context.Background(), PerformanceInput{Name: "LCP", Value: -1}); err == nil {
		t.Fatal("negative values should be rejected")
	}
}

func TestPrune_UsesRetention(t *testing.T) {
	st := newMemStore()
	svc := NewMonitoringService(st, NewEventWriter(""), "", 7*24*time.Hour, logging.Discard())
	now := time.Date(2026, 5, 20, 3, 0, 0, 0, time.UTC)

	removed, err := svc.Prune(context.Background(), now)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d", removed)
	}
	if want := now.Add(-7 * 24 * time.Hour); !st.prunedBefore.Equal(want) {
		t.Fatalf("pruned before %s, want %s", st.prunedBefore, want)
	}
}
