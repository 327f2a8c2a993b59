package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/metrics"
	"github.com/cureliah/backend/internal/store"
	"github.com/cureliah/backend/internal/validation"
	"github.com/google/uuid"
)

// MonitoringService ingests client-side error reports and performance samples.
type MonitoringService struct {
	store      store.Store
	events     *EventWriter
	alertEmail string
	retention  time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewMonitoringService(st store.Store, events *EventWriter, alertEmail string, retention time.Duration, logger *slog.Logger) *MonitoringService {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &MonitoringService{
		store:      st,
		events:     events,
		alertEmail: strings.TrimSpace(alertEmail),
		retention:  retention,
		logger:     logger.With("component", "monitoring_service"),
		now:        time.Now,
	}
}

type ErrorReportInput struct {
	Message   string          `json:"message" validate:"required,max=5000"`
	URL       string          `json:"url" validate:"max=2048"`
	Timestamp *time.Time      `json:"timestamp"`
	Severity  domain.Severity `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Stack     string          `json:"stack" validate:"max=20000"`
	UserAgent string          `json:"userAgent" validate:"max=1000"`
	UserID    string          `json:"userId" validate:"max=100"`
	Context   map[string]any  `json:"context"`
}

// ReportError stores a client error. Critical errors also queue an alert email
// in the same transaction.
func (s *MonitoringService) ReportError(ctx context.Context, in ErrorReportInput) (*domain.ErrorReport, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	report := &domain.ErrorReport{
		ID:         uuid.New(),
		Message:    strings.TrimSpace(in.Message),
		URL:        in.URL,
		Severity:   in.Severity,
		Stack:      in.Stack,
		UserAgent:  in.UserAgent,
		UserID:     in.UserID,
		Context:    in.Context,
		OccurredAt: now,
		ReceivedAt: now,
	}
	if report.Severity == "" {
		report.Severity = domain.SeverityMedium
	}
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		report.OccurredAt = in.Timestamp.UTC()
	}

	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		if err := repo.InsertErrorReport(ctx, report); err != nil {
			return err
		}
		if report.Severity != domain.SeverityCritical || s.alertEmail == "" {
			return nil
		}
		return s.events.QueueEmail(ctx, repo, domain.EmailJob{
			Template: domain.EmailCriticalError,
			To:       s.alertEmail,
			Data: map[string]any{
				"message":     report.Message,
				"severity":    string(report.Severity),
				"url":         report.URL,
				"user_id":     report.UserID,
				"user_agent":  report.UserAgent,
				"occurred_at": report.OccurredAt.Format(time.RFC3339),
				"stack":       report.Stack,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.ClientErrors.WithLabelValues(string(report.Severity)).Inc()
	if report.Severity == domain.SeverityCritical {
		s.logger.Error("critical client error reported", "report_id", report.ID, "url", report.URL, "user_id", report.UserID, "message", report.Message)
	}
	return report, nil
}

type PerformanceInput struct {
	Name      string     `json:"name" validate:"required,max=100"`
	Value     float64    `json:"value" validate:"gte=0"`
	Timestamp *time.Time `json:"timestamp"`
	URL       string     `json:"url" validate:"max=2048"`
}

func (s *MonitoringService) RecordPerformance(ctx context.Context, in PerformanceInput) (*domain.PerformanceMetric, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	m := &domain.PerformanceMetric{
		ID:         uuid.New(),
		Name:       strings.TrimSpace(in.Name),
		Value:      in.Value,
		URL:        in.URL,
		OccurredAt: now,
		ReceivedAt: now,
	}
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		m.OccurredAt = in.Timestamp.UTC()
	}
	if err := s.store.InsertPerformanceMetric(ctx, m); err != nil {
		return nil, err
	}
	metrics.ClientPerformance.WithLabelValues(m.MetricLabel()).Observe(m.Value)
	return m, nil
}

// Prune deletes monitoring rows older than the retention window.
func (s *MonitoringService) Prune(ctx context.Context, now time.Time) (int64, error) {
	removed, err := s.store.PruneMonitoring(ctx, now.Add(-s.retention))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("monitoring rows pruned", "count", removed, "retention", s.retention.String())
	}
	return removed, nil
}
