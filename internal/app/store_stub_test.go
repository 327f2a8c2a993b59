package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/store"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// memStore is an in-memory store. WithinTx does not roll back; tests assert on
// successful paths or on errors raised before any write.
type memStore struct {
	store.Repository

	mu            sync.Mutex
	profiles      map[uuid.UUID]*domain.Profile
	vacations     map[uuid.UUID]*domain.VacationPost
	bookings      map[uuid.UUID]*domain.Booking
	notifications []*domain.Notification
	subscriptions map[subKey]*domain.Subscription
	urgent        map[uuid.UUID]*domain.UrgentRequest
	responses     map[uuid.UUID]*domain.UrgentResponse
	errorReports  []*domain.ErrorReport
	perfMetrics   []*domain.PerformanceMetric
	outbox        []store.OutboxMessage
	prunedBefore  time.Time
}

type subKey struct {
	userID uuid.UUID
	subID  string
}

func newMemStore() *memStore {
	return &memStore{
		profiles:      map[uuid.UUID]*domain.Profile{},
		vacations:     map[uuid.UUID]*domain.VacationPost{},
		bookings:      map[uuid.UUID]*domain.Booking{},
		subscriptions: map[subKey]*domain.Subscription{},
		urgent:        map[uuid.UUID]*domain.UrgentRequest{},
		responses:     map[uuid.UUID]*domain.UrgentResponse{},
	}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(store.Repository) error) error {
	return fn(m)
}

func (m *memStore) GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) CreateVacation(ctx context.Context, v *domain.VacationPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.vacations[v.ID] = &cp
	return nil
}

func (m *memStore) GetVacation(ctx context.Context, id uuid.UUID) (*domain.VacationPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vacations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) GetVacationForUpdate(ctx context.Context, id uuid.UUID) (*domain.VacationPost, error) {
	return m.GetVacation(ctx, id)
}

func (m *memStore) UpdateVacationStatus(ctx context.Context, id uuid.UUID, status domain.VacationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vacations[id]
	if !ok {
		return store.ErrNotFound
	}
	v.Status = status
	return nil
}

func (m *memStore) CreateBooking(ctx context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memStore) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return m.GetBooking(ctx, id)
}

func (m *memStore) FindBookingByRequestKey(ctx context.Context, establishmentID uuid.UUID, requestKey string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.EstablishmentID == establishmentID && b.RequestKey != nil && *b.RequestKey == requestKey {
			cp := *b
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) FindBookingByPaymentRef(ctx context.Context, sessionID, paymentIntentID string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if sessionID != "" && b.StripeSessionID != nil && *b.StripeSessionID == sessionID {
			cp := *b
			return &cp, nil
		}
		if paymentIntentID != "" && b.StripePaymentIntentID != nil && *b.StripePaymentIntentID == paymentIntentID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) HasLiveBooking(ctx context.Context, vacationID, establishmentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.VacationPostID == vacationID && b.EstablishmentID == establishmentID && b.Status.IsLive() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListPendingBookingsForVacation(ctx context.Context, vacationID uuid.UUID, excludeBookingID uuid.UUID) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.VacationPostID == vacationID && b.ID != excludeBookingID && b.Status == domain.BookingPending {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) UpdateBooking(ctx context.Context, id uuid.UUID, update store.BookingUpdate) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if b.Status != update.ExpectedStatus {
		return nil, store.ErrStatusMismatch
	}
	if update.Status != nil {
		b.Status = *update.Status
	}
	if update.PaymentStatus != nil {
		b.PaymentStatus = *update.PaymentStatus
	}
	if update.StripeSessionID != nil {
		v := *update.StripeSessionID
		b.StripeSessionID = &v
	}
	if update.StripePaymentIntentID != nil {
		v := *update.StripePaymentIntentID
		b.StripePaymentIntentID = &v
	}
	if update.CancellationReason != nil {
		v := *update.CancellationReason
		b.CancellationReason = &v
	}
	if update.CancelledBy != nil {
		v := *update.CancelledBy
		b.CancelledBy = &v
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) CreateReview(ctx context.Context, r *domain.Review) error {
	return nil
}

func (m *memStore) InsertNotification(ctx context.Context, n domain.NewNotification) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := &domain.Notification{
		ID:                     uuid.New(),
		UserID:                 n.UserID,
		Title:                  n.Title,
		Message:                n.Message,
		Type:                   n.Type,
		RelatedBookingID:       n.RelatedBookingID,
		RelatedUrgentRequestID: n.RelatedUrgentRequestID,
		CreatedAt:              time.Now().UTC(),
	}
	m.notifications = append(m.notifications, row)
	cp := *row
	return &cp, nil
}

func (m *memStore) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) (*domain.Notification, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.ID == id && n.UserID == userID {
			wasUnread := n.ReadAt == nil
			if wasUnread {
				now := time.Now().UTC()
				n.ReadAt = &now
			}
			cp := *n
			return &cp, wasUnread, nil
		}
	}
	return nil, false, store.ErrNotFound
}

func (m *memStore) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed int64
	now := time.Now().UTC()
	for _, n := range m.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			n.ReadAt = &now
			changed++
		}
	}
	return changed, nil
}

func (m *memStore) DeleteNotification(ctx context.Context, userID, id uuid.UUID) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notifications {
		if n.ID == id && n.UserID == userID {
			m.notifications = append(m.notifications[:i], m.notifications[i+1:]...)
			return n, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) UpsertSubscription(ctx context.Context, s *domain.Subscription) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subKey{userID: s.UserID, subID: s.StripeSubscriptionID}
	if existing, ok := m.subscriptions[key]; ok {
		id, created := existing.ID, existing.CreatedAt
		*existing = *s
		existing.ID, existing.CreatedAt = id, created
		cp := *existing
		return &cp, nil
	}
	cp := *s
	cp.CreatedAt = time.Now().UTC()
	m.subscriptions[key] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) GetSubscription(ctx context.Context, userID uuid.UUID, stripeSubscriptionID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[subKey{userID: userID, subID: stripeSubscriptionID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.subscriptions {
		if k.subID == stripeSubscriptionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) FindSubscriptionByCustomerID(ctx context.Context, stripeCustomerID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscriptions {
		if s.StripeCustomerID == stripeCustomerID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListSubscriptions(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for k, s := range m.subscriptions {
		if k.userID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) CreateUrgentRequest(ctx context.Context, r *domain.UrgentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.urgent[r.ID] = &cp
	return nil
}

func (m *memStore) GetUrgentRequest(ctx context.Context, id uuid.UUID) (*domain.UrgentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.urgent[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetUrgentRequestForUpdate(ctx context.Context, id uuid.UUID) (*domain.UrgentRequest, error) {
	return m.GetUrgentRequest(ctx, id)
}

func (m *memStore) UpdateUrgentRequestStatus(ctx context.Context, id uuid.UUID, from, to domain.UrgentRequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.urgent[id]
	if !ok || r.Status != from {
		return store.ErrStatusMismatch
	}
	r.Status = to
	return nil
}

func (m *memStore) ClaimDueUrgentRequests(ctx context.Context, now time.Time, limit int) ([]domain.UrgentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.UrgentRequest
	for _, r := range m.urgent {
		if r.Status.AcceptsResponses() && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CreateUrgentResponse(ctx context.Context, r *domain.UrgentResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.responses {
		if existing.RequestID == r.RequestID && existing.DoctorID == r.DoctorID {
			return store.ErrDuplicate
		}
	}
	cp := *r
	m.responses[r.ID] = &cp
	return nil
}

func (m *memStore) GetUrgentResponseForUpdate(ctx context.Context, id uuid.UUID) (*domain.UrgentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListUrgentResponses(ctx context.Context, requestID uuid.UUID, status domain.UrgentResponseStatus) ([]domain.UrgentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.UrgentResponse
	for _, r := range m.responses {
		if r.RequestID == requestID && (status == "" || r.Status == status) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateUrgentResponseStatus(ctx context.Context, id uuid.UUID, from, to domain.UrgentResponseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responses[id]
	if !ok || r.Status != from {
		return store.ErrStatusMismatch
	}
	r.Status = to
	return nil
}

func (m *memStore) InsertErrorReport(ctx context.Context, r *domain.ErrorReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorReports = append(m.errorReports, r)
	return nil
}

func (m *memStore) InsertPerformanceMetric(ctx context.Context, pm *domain.PerformanceMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perfMetrics = append(m.perfMetrics, pm)
	return nil
}

func (m *memStore) PruneMonitoring(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunedBefore = before
	return 3, nil
}

func (m *memStore) EnqueueOutbox(ctx context.Context, exchange, routingKey string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, store.OutboxMessage{
		ID:         int64(len(m.outbox) + 1),
		Exchange:   exchange,
		RoutingKey: routingKey,
		Payload:    payload,
	})
	return nil
}

// notificationsFor returns the inbox rows written for userID, oldest first.
func (m *memStore) notificationsFor(userID uuid.UUID) []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out
}

// outboxKeys lists the routing keys enqueued so far.
func (m *memStore) outboxKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.outbox))
	for _, msg := range m.outbox {
		keys = append(keys, msg.RoutingKey)
	}
	return keys
}

// lastChange decodes the most recent notification change in the outbox.
func (m *memStore) lastChange() (domain.NotificationChange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.outbox) - 1; i >= 0; i-- {
		if m.outbox[i].RoutingKey == domain.RoutingEmailSend {
			continue
		}
		var change domain.NotificationChange
		if err := json.Unmarshal(m.outbox[i].Payload, &change); err != nil {
			return domain.NotificationChange{}, false
		}
		return change, true
	}
	return domain.NotificationChange{}, false
}

func (m *memStore) addProfile(role domain.Role) *domain.Profile {
	p := &domain.Profile{ID: uuid.New(), Email: string(role) + "@example.com", FullName: "Test " + string(role), Role: role}
	m.mu.Lock()
	m.profiles[p.ID] = p
	m.mu.Unlock()
	return p
}

func (m *memStore) addVacation(doctorID uuid.UUID, status domain.VacationStatus) *domain.VacationPost {
	start := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	v := &domain.VacationPost{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		Title:           "Remplacement médecine générale",
		Speciality:      "general",
		StartDate:       start,
		EndDate:         start.Add(10 * time.Hour),
		HourlyRateCents: 8000,
		Status:          status,
	}
	_ = m.CreateVacation(context.Background(), v)
	return v
}

func (m *memStore) addBooking(v *domain.VacationPost, establishmentID uuid.UUID, status domain.BookingStatus, payment domain.PaymentStatus) *domain.Booking {
	b := &domain.Booking{
		ID:               uuid.New(),
		VacationPostID:   v.ID,
		DoctorID:         v.DoctorID,
		EstablishmentID:  establishmentID,
		Status:           status,
		PaymentStatus:    payment,
		TotalAmountCents: v.TotalAmountCents(),
	}
	_ = m.CreateBooking(context.Background(), b)
	return b
}

func (m *memStore) booking(id uuid.UUID) domain.Booking {
	b, _ := m.GetBooking(context.Background(), id)
	return *b
}

func (m *memStore) vacation(id uuid.UUID) domain.VacationPost {
	v, _ := m.GetVacation(context.Background(), id)
	return *v
}
