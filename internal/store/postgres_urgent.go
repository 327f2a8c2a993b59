package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const urgentColumns = `id, establishment_id, title, description, speciality, start_date, end_date,
	hourly_rate_cents, urgency_level, status, expires_at, created_at, updated_at`

func scanUrgentRequest(row pgx.Row) (*domain.UrgentRequest, error) {
	var (
		u               domain.UrgentRequest
		urgency, status string
	)
	if err := row.Scan(&u.ID, &u.EstablishmentID, &u.Title, &u.Description, &u.Speciality, &u.StartDate,
		&u.EndDate, &u.HourlyRateCents, &urgency, &status, &u.ExpiresAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	u.UrgencyLevel = domain.UrgencyLevel(urgency)
	u.Status = domain.UrgentRequestStatus(status)
	return &u, nil
}

func collectUrgentRequests(rows pgx.Rows) ([]domain.UrgentRequest, error) {
	defer rows.Close()
	items := make([]domain.UrgentRequest, 0)
	for rows.Next() {
		u, err := scanUrgentRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *u)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) CreateUrgentRequest(ctx context.Context, u *domain.UrgentRequest) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO urgent_requests (id, establishment_id, title, description, speciality, start_date, end_date,
			hourly_rate_cents, urgency_level, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, u.ID, u.EstablishmentID, u.Title, u.Description, u.Speciality, u.StartDate, u.EndDate,
		u.HourlyRateCents, string(u.UrgencyLevel), string(u.Status), u.ExpiresAt).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (r *PostgresRepository) GetUrgentRequest(ctx context.Context, id uuid.UUID) (*domain.UrgentRequest, error) {
	return scanUrgentRequest(r.db.QueryRow(ctx, `SELECT `+urgentColumns+` FROM urgent_requests WHERE id = $1`, id))
}

func (r *PostgresRepository) GetUrgentRequestForUpdate(ctx context.Context, id uuid.UUID) (*domain.UrgentRequest, error) {
	return scanUrgentRequest(r.db.QueryRow(ctx, `SELECT `+urgentColumns+` FROM urgent_requests WHERE id = $1 FOR UPDATE`, id))
}

func (r *PostgresRepository) ListOpenUrgentRequests(ctx context.Context, opts domain.UrgentListOptions) ([]domain.UrgentRequest, error) {
	query := `SELECT ` + urgentColumns + ` FROM urgent_requests
		WHERE status IN ('open', 'in_progress') AND (expires_at IS NULL OR expires_at > NOW())`
	var args []any
	if s := strings.TrimSpace(opts.Speciality); s != "" {
		args = append(args, s)
		query += fmt.Sprintf(" AND speciality ILIKE $%d", len(args))
	}
	if opts.UrgencyLevel != "" {
		args = append(args, string(opts.UrgencyLevel))
		query += fmt.Sprintf(" AND urgency_level = $%d", len(args))
	}
	args = append(args, clampLimit(opts.Limit, 50, 200), max(opts.Offset, 0))
	query += fmt.Sprintf(` ORDER BY CASE urgency_level WHEN 'critical' THEN 0 WHEN 'high' THEN 1 ELSE 2 END,
		start_date ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectUrgentRequests(rows)
}

func (r *PostgresRepository) ListUrgentRequestsByEstablishment(ctx context.Context, establishmentID uuid.UUID) ([]domain.UrgentRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+urgentColumns+`
		FROM urgent_requests
		WHERE establishment_id = $1
		ORDER BY created_at DESC
		LIMIT 200
	`, establishmentID)
	if err != nil {
		return nil, err
	}
	return collectUrgentRequests(rows)
}

func (r *PostgresRepository) UpdateUrgentRequestStatus(ctx context.Context, id uuid.UUID, from, to domain.UrgentRequestStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE urgent_requests SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusMismatch
	}
	return nil
}

// ClaimDueUrgentRequests locks requests whose explicit deadline has passed.
// Must run inside WithinTx so the locks are held until the status change commits.
func (r *PostgresRepository) ClaimDueUrgentRequests(ctx context.Context, now time.Time, limit int) ([]domain.UrgentRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+urgentColumns+`
		FROM urgent_requests
		WHERE status IN ('open', 'in_progress')
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, clampLimit(limit, 100, 500))
	if err != nil {
		return nil, err
	}
	return collectUrgentRequests(rows)
}

const responseColumns = `id, request_id, doctor_id, status, message, created_at, updated_at`

func scanUrgentResponse(row pgx.Row) (*domain.UrgentResponse, error) {
	var (
		resp   domain.UrgentResponse
		status string
	)
	if err := row.Scan(&resp.ID, &resp.RequestID, &resp.DoctorID, &status, &resp.Message, &resp.CreatedAt, &resp.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	resp.Status = domain.UrgentResponseStatus(status)
	return &resp, nil
}

func (r *PostgresRepository) CreateUrgentResponse(ctx context.Context, resp *domain.UrgentResponse) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO urgent_request_responses (id, request_id, doctor_id, status, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, resp.ID, resp.RequestID, resp.DoctorID, string(resp.Status), resp.Message).Scan(&resp.CreatedAt, &resp.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *PostgresRepository) GetUrgentResponseForUpdate(ctx context.Context, id uuid.UUID) (*domain.UrgentResponse, error) {
	return scanUrgentResponse(r.db.QueryRow(ctx, `
		SELECT `+responseColumns+` FROM urgent_request_responses WHERE id = $1 FOR UPDATE
	`, id))
}

// ListUrgentResponses returns responses for a request; an empty status returns all of them.
func (r *PostgresRepository) ListUrgentResponses(ctx context.Context, requestID uuid.UUID, status domain.UrgentResponseStatus) ([]domain.UrgentResponse, error) {
	query := `SELECT ` + responseColumns + ` FROM urgent_request_responses WHERE request_id = $1`
	args := []any{requestID}
	if status != "" {
		args = append(args, string(status))
		query += ` AND status = $2`
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.UrgentResponse, 0)
	for rows.Next() {
		resp, err := scanUrgentResponse(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *resp)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) UpdateUrgentResponseStatus(ctx context.Context, id uuid.UUID, from, to domain.UrgentResponseStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE urgent_request_responses SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusMismatch
	}
	return nil
}
