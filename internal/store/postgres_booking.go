package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cureliah/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (r *PostgresRepository) GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	var (
		p    domain.Profile
		role string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, email, full_name, role
		FROM profiles
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Email, &p.FullName, &role)
	if err != nil {
		return nil, notFound(err)
	}
	p.Role = domain.Role(role)
	return &p, nil
}

const vacationColumns = `id, doctor_id, title, description, speciality, location, start_date, end_date,
	hourly_rate_cents, billable_hours, status, created_at, updated_at`

func scanVacation(row pgx.Row) (*domain.VacationPost, error) {
	var (
		v      domain.VacationPost
		status string
	)
	if err := row.Scan(&v.ID, &v.DoctorID, &v.Title, &v.Description, &v.Speciality, &v.Location,
		&v.StartDate, &v.EndDate, &v.HourlyRateCents, &v.BillableHours, &status, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	v.Status = domain.VacationStatus(status)
	return &v, nil
}

func (r *PostgresRepository) CreateVacation(ctx context.Context, v *domain.VacationPost) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO vacation_posts (id, doctor_id, title, description, speciality, location,
			start_date, end_date, hourly_rate_cents, billable_hours, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, v.ID, v.DoctorID, v.Title, v.Description, v.Speciality, v.Location,
		v.StartDate, v.EndDate, v.HourlyRateCents, v.BillableHours, string(v.Status)).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (r *PostgresRepository) GetVacation(ctx context.Context, id uuid.UUID) (*domain.VacationPost, error) {
	return scanVacation(r.db.QueryRow(ctx, `SELECT `+vacationColumns+` FROM vacation_posts WHERE id = $1`, id))
}

func (r *PostgresRepository) GetVacationForUpdate(ctx context.Context, id uuid.UUID) (*domain.VacationPost, error) {
	return scanVacation(r.db.QueryRow(ctx, `SELECT `+vacationColumns+` FROM vacation_posts WHERE id = $1 FOR UPDATE`, id))
}

func (r *PostgresRepository) ListVacations(ctx context.Context, opts domain.VacationListOptions) ([]domain.VacationPost, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if opts.Status != "" {
		add("status = $%d", string(opts.Status))
	}
	if opts.DoctorID != nil {
		add("doctor_id = $%d", *opts.DoctorID)
	}
	if s := strings.TrimSpace(opts.Speciality); s != "" {
		add("speciality ILIKE $%d", s)
	}
	if l := strings.TrimSpace(opts.Location); l != "" {
		add("location ILIKE '%%' || $%d || '%%'", l)
	}
	if opts.From != nil {
		add("end_date >= $%d", *opts.From)
	}
	if opts.To != nil {
		add("start_date <= $%d", *opts.To)
	}

	query := `SELECT ` + vacationColumns + ` FROM vacation_posts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(opts.Limit, 50, 200), max(opts.Offset, 0))
	query += fmt.Sprintf(` ORDER BY start_date ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.VacationPost, 0)
	for rows.Next() {
		v, err := scanVacation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *v)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) UpdateVacationStatus(ctx context.Context, id uuid.UUID, status domain.VacationStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE vacation_posts SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const bookingColumns = `id, vacation_post_id, doctor_id, establishment_id, status, payment_status,
	total_amount_cents, stripe_session_id, stripe_payment_intent_id, cancellation_reason, cancelled_by,
	request_key, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b             domain.Booking
		status        string
		paymentStatus string
	)
	if err := row.Scan(&b.ID, &b.VacationPostID, &b.DoctorID, &b.EstablishmentID, &status, &paymentStatus,
		&b.TotalAmountCents, &b.StripeSessionID, &b.StripePaymentIntentID, &b.CancellationReason, &b.CancelledBy,
		&b.RequestKey, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	b.Status = domain.BookingStatus(status)
	b.PaymentStatus = domain.PaymentStatus(paymentStatus)
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()
	items := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *b)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) CreateBooking(ctx context.Context, b *domain.Booking) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO bookings (id, vacation_post_id, doctor_id, establishment_id, status, payment_status,
			total_amount_cents, request_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, b.ID, b.VacationPostID, b.DoctorID, b.EstablishmentID, string(b.Status), string(b.PaymentStatus),
		b.TotalAmountCents, b.RequestKey).Scan(&b.CreatedAt, &b.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *PostgresRepository) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
}

func (r *PostgresRepository) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
}

func (r *PostgresRepository) FindBookingByRequestKey(ctx context.Context, establishmentID uuid.UUID, requestKey string) (*domain.Booking, error) {
	return scanBooking(r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE establishment_id = $1 AND request_key = $2
	`, establishmentID, requestKey))
}

// FindBookingByPaymentRef matches a checkout session id or a payment intent id;
// empty arguments never match.
func (r *PostgresRepository) FindBookingByPaymentRef(ctx context.Context, sessionID, paymentIntentID string) (*domain.Booking, error) {
	return scanBooking(r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE ($1 <> '' AND stripe_session_id = $1)
		   OR ($2 <> '' AND stripe_payment_intent_id = $2)
		ORDER BY updated_at DESC
		LIMIT 1
	`, sessionID, paymentIntentID))
}

func (r *PostgresRepository) HasLiveBooking(ctx context.Context, vacationID, establishmentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE vacation_post_id = $1
			  AND establishment_id = $2
			  AND status IN ('pending', 'booked')
		)
	`, vacationID, establishmentID).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) ListBookingsForUser(ctx context.Context, userID uuid.UUID, opts domain.BookingListOptions) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE (doctor_id = $1 OR establishment_id = $1)`
	args := []any{userID}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, clampLimit(opts.Limit, 50, 200), max(opts.Offset, 0))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PostgresRepository) ListPendingBookingsForVacation(ctx context.Context, vacationID uuid.UUID, excludeBookingID uuid.UUID) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE vacation_post_id = $1 AND id <> $2 AND status = 'pending'
		ORDER BY created_at
		FOR UPDATE
	`, vacationID, excludeBookingID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PostgresRepository) UpdateBooking(ctx context.Context, id uuid.UUID, u BookingUpdate) (*domain.Booking, error) {
	var status, paymentStatus *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}
	if u.PaymentStatus != nil {
		s := string(*u.PaymentStatus)
		paymentStatus = &s
	}

	b, err := scanBooking(r.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = COALESCE($3, status),
			payment_status = COALESCE($4, payment_status),
			stripe_session_id = COALESCE($5, stripe_session_id),
			stripe_payment_intent_id = COALESCE($6, stripe_payment_intent_id),
			cancellation_reason = COALESCE($7, cancellation_reason),
			cancelled_by = COALESCE($8, cancelled_by),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+bookingColumns,
		id, string(u.ExpectedStatus), status, paymentStatus, u.StripeSessionID, u.StripePaymentIntentID,
		u.CancellationReason, u.CancelledBy))
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing booking from a lost race on its status.
		if _, getErr := r.GetBooking(ctx, id); getErr == nil {
			return nil, ErrStatusMismatch
		}
	}
	return b, err
}

func (r *PostgresRepository) CreateReview(ctx context.Context, rv *domain.Review) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO reviews (id, booking_id, reviewer_id, reviewee_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, rv.ID, rv.BookingID, rv.ReviewerID, rv.RevieweeID, rv.Rating, rv.Comment).Scan(&rv.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}
