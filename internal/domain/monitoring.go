package domain

import (
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ErrorReport is a client-side error shipped to the monitoring endpoint.
type ErrorReport struct {
	ID         uuid.UUID      `json:"id"`
	Message    string         `json:"message"`
	URL        string         `json:"url,omitempty"`
	Severity   Severity       `json:"severity"`
	Stack      string         `json:"stack,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	ReceivedAt time.Time      `json:"received_at"`
}

// PerformanceMetric is one client-side timing sample (web vitals and custom marks).
type PerformanceMetric struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	URL        string    `json:"url,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	ReceivedAt time.Time `json:"received_at"`
}

var webVitals = map[string]struct{}{
	"CLS": {}, "FCP": {}, "FID": {}, "INP": {}, "LCP": {}, "TTFB": {},
}

// MetricLabel bounds label cardinality: web vitals keep their name, the rest are "custom".
func (m PerformanceMetric) MetricLabel() string {
	if _, ok := webVitals[m.Name]; ok {
		return m.Name
	}
	return "custom"
}
