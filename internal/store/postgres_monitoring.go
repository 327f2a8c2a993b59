package store

import (
	"context"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/goccy/go-json"
)

func (r *PostgresRepository) InsertErrorReport(ctx context.Context, rep *domain.ErrorReport) error {
	var contextJSON []byte
	if len(rep.Context) > 0 {
		encoded, err := json.Marshal(rep.Context)
		if err != nil {
			return err
		}
		contextJSON = encoded
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO monitoring_errors (id, message, url, severity, stack, user_agent, user_id, context, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
		RETURNING received_at
	`, rep.ID, rep.Message, rep.URL, string(rep.Severity), rep.Stack, rep.UserAgent, rep.UserID,
		stringPtr(string(contextJSON)), rep.OccurredAt).Scan(&rep.ReceivedAt)
}

func (r *PostgresRepository) InsertPerformanceMetric(ctx context.Context, m *domain.PerformanceMetric) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO performance_metrics (id, name, value, url, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING received_at
	`, m.ID, m.Name, m.Value, m.URL, m.OccurredAt).Scan(&m.ReceivedAt)
}

// PruneMonitoring deletes error reports and samples received before the cutoff.
func (r *PostgresRepository) PruneMonitoring(ctx context.Context, before time.Time) (int64, error) {
	errTag, err := r.db.Exec(ctx, `DELETE FROM monitoring_errors WHERE received_at < $1`, before)
	if err != nil {
		return 0, err
	}
	perfTag, err := r.db.Exec(ctx, `DELETE FROM performance_metrics WHERE received_at < $1`, before)
	if err != nil {
		return errTag.RowsAffected(), err
	}
	return errTag.RowsAffected() + perfTag.RowsAffected(), nil
}
