package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therapia/therapia/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// Postgres error codes for constraint breaches the booking paths turn
// into domain results.
const (
	uniqueViolation    = "23505"
	exclusionViolation = "23P01"
)

// isExclusionViolation reports whether err is an exclusion constraint
// breach, the signal that a concurrent writer took the span first.
func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == exclusionViolation
}

// -- Slots --

type slotRepoPG struct {
	pool *pgxpool.Pool
}

func NewSlotRepo(pool *pgxpool.Pool) SlotRepository {
	return &slotRepoPG{pool: pool}
}

const slotCols = `id, provider_id, start_ts, end_ts, status, created_by_booking, created_at, updated_at`

func (r *slotRepoPG) Create(ctx context.Context, slot *Slot) error {
	slot.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO slot (id, provider_id, start_ts, end_ts, status, created_by_booking)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		slot.ID, slot.ProviderID, slot.StartTS, slot.EndTS, slot.Status, slot.CreatedByBooking,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateSlot
	}
	return err
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return scanSlot(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+slotCols+` FROM slot WHERE id = $1`, id))
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM slot WHERE id = $1`, id)
	return err
}

func (r *slotRepoPG) List(ctx context.Context, providerID uuid.UUID, from, to time.Time, status string) ([]*Slot, error) {
	query := `SELECT ` + slotCols + ` FROM slot
		WHERE provider_id = $1 AND start_ts >= $2 AND end_ts <= $3`
	args := []interface{}{providerID, from, to}
	if status != "" {
		query += ` AND status = $4`
		args = append(args, status)
	}
	query += ` ORDER BY start_ts`

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

func (r *slotRepoPG) CountAvailable(ctx context.Context, providerID uuid.UUID, start, end time.Time) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM slot
		WHERE provider_id = $1 AND status = 'available'
		  AND start_ts >= $2 AND end_ts <= $3`,
		providerID, start, end,
	).Scan(&n)
	return n, err
}

func (r *slotRepoPG) MarkBooked(ctx context.Context, providerID uuid.UUID, start, end time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE slot SET status = 'booked', updated_at = NOW()
		WHERE provider_id = $1 AND status = 'available'
		  AND start_ts >= $2 AND end_ts <= $3`,
		providerID, start, end,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *slotRepoPG) UpsertBooked(ctx context.Context, providerID uuid.UUID, start, end time.Time) error {
	q := conn(ctx, r.pool)
	for _, t := range increments(start, end) {
		_, err := q.Exec(ctx, `
			INSERT INTO slot (id, provider_id, start_ts, end_ts, status, created_by_booking)
			VALUES ($1, $2, $3, $4, 'booked', TRUE)
			ON CONFLICT (provider_id, start_ts)
			DO UPDATE SET status = 'booked', updated_at = NOW()`,
			uuid.New(), providerID, t, t.Add(SlotDuration),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *slotRepoPG) Release(ctx context.Context, providerID uuid.UUID, start, end time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE slot SET status = 'available', updated_at = NOW()
		WHERE provider_id = $1 AND status = 'booked'
		  AND start_ts >= $2 AND end_ts <= $3`,
		providerID, start, end,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.ProviderID, &s.StartTS, &s.EndTS, &s.Status,
		&s.CreatedByBooking, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSlots(rows pgx.Rows) ([]*Slot, error) {
	var slots []*Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.StartTS, &s.EndTS, &s.Status,
			&s.CreatedByBooking, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		slots = append(slots, &s)
	}
	return slots, rows.Err()
}

// -- Scheduling requests --

type requestRepoPG struct {
	pool *pgxpool.Pool
}

func NewRequestRepo(pool *pgxpool.Pool) RequestRepository {
	return &requestRepoPG{pool: pool}
}

const reqCols = `id, client_id, provider_id, requested_slot_id, start_ts, end_ts, status,
	client_message, provider_response, suggested_alternatives,
	cancelled_by, cancellation_reason, created_at, responded_at`

func (r *requestRepoPG) Create(ctx context.Context, req *SchedulingRequest) error {
	req.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO scheduling_request (
			id, client_id, provider_id, requested_slot_id, start_ts, end_ts,
			status, client_message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		req.ID, req.ClientID, req.ProviderID, req.RequestedSlotID,
		req.StartTS, req.EndTS, req.Status, req.ClientMessage,
	)
	return err
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SchedulingRequest, error) {
	return scanRequest(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+reqCols+` FROM scheduling_request WHERE id = $1`, id))
}

func (r *requestRepoPG) Update(ctx context.Context, req *SchedulingRequest) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE scheduling_request SET
			status = $2, provider_response = $3, suggested_alternatives = $4,
			cancelled_by = $5, cancellation_reason = $6, responded_at = $7
		WHERE id = $1`,
		req.ID, req.Status, req.ProviderResponse, req.SuggestedAlternatives,
		req.CancelledBy, req.CancellationReason, req.RespondedAt,
	)
	return err
}

func (r *requestRepoPG) ListPendingByProvider(ctx context.Context, providerID uuid.UUID) ([]*SchedulingRequest, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+reqCols+` FROM scheduling_request
		WHERE provider_id = $1 AND status = 'pending'
		ORDER BY created_at DESC`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *requestRepoPG) ListByProviderInWindow(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*SchedulingRequest, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+reqCols+` FROM scheduling_request
		WHERE provider_id = $1 AND start_ts >= $2 AND start_ts < $3
		ORDER BY start_ts`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *requestRepoPG) ListRecentByClient(ctx context.Context, clientID uuid.UUID, since time.Time, limit int) ([]*SchedulingRequest, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+reqCols+` FROM scheduling_request
		WHERE client_id = $1 AND created_at >= $2
		ORDER BY created_at DESC LIMIT $3`, clientID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func scanRequest(row pgx.Row) (*SchedulingRequest, error) {
	var req SchedulingRequest
	err := row.Scan(&req.ID, &req.ClientID, &req.ProviderID, &req.RequestedSlotID,
		&req.StartTS, &req.EndTS, &req.Status, &req.ClientMessage, &req.ProviderResponse,
		&req.SuggestedAlternatives, &req.CancelledBy, &req.CancellationReason,
		&req.CreatedAt, &req.RespondedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func collectRequests(rows pgx.Rows) ([]*SchedulingRequest, error) {
	var reqs []*SchedulingRequest
	for rows.Next() {
		var req SchedulingRequest
		if err := rows.Scan(&req.ID, &req.ClientID, &req.ProviderID, &req.RequestedSlotID,
			&req.StartTS, &req.EndTS, &req.Status, &req.ClientMessage, &req.ProviderResponse,
			&req.SuggestedAlternatives, &req.CancelledBy, &req.CancellationReason,
			&req.CreatedAt, &req.RespondedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, &req)
	}
	return reqs, rows.Err()
}

// -- Appointments --

type apptRepoPG struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepo(pool *pgxpool.Pool) AppointmentRepository {
	return &apptRepoPG{pool: pool}
}

const apptCols = `id, client_id, provider_id, scheduling_request_id, start_ts, end_ts,
	status, location, recurring_rule, created_at, updated_at`

func (r *apptRepoPG) InsertIfFree(ctx context.Context, appt *Appointment) (bool, error) {
	appt.ID = uuid.New()
	if appt.Status == "" {
		appt.Status = ApptScheduled
	}
	// The NOT EXISTS check rejects already-committed overlaps without
	// touching the constraint. It cannot see another transaction's
	// uncommitted row under read committed, so the appointment_no_overlap
	// exclusion constraint settles races between concurrent inserts.
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointment (
			id, client_id, provider_id, scheduling_request_id,
			start_ts, end_ts, status, location, recurring_rule
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE NOT EXISTS (
			SELECT 1 FROM appointment
			WHERE provider_id = $3
			  AND status <> 'cancelled'
			  AND start_ts < $6 AND end_ts > $5
		)`,
		appt.ID, appt.ClientID, appt.ProviderID, appt.SchedulingRequestID,
		appt.StartTS, appt.EndTS, appt.Status, appt.Location, appt.RecurringRule,
	)
	if isExclusionViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *apptRepoPG) FindOverlap(ctx context.Context, providerID uuid.UUID, start, end time.Time) (*Overlap, error) {
	var o Overlap
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT a.start_ts, a.end_ts, u.full_name
		FROM appointment a
		JOIN app_user u ON u.id = a.client_id
		WHERE a.provider_id = $1
		  AND a.status <> 'cancelled'
		  AND a.start_ts < $3 AND a.end_ts > $2
		ORDER BY a.start_ts LIMIT 1`,
		providerID, start, end,
	).Scan(&o.Start, &o.End, &o.ClientName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *apptRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var a Appointment
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id,
	).Scan(&a.ID, &a.ClientID, &a.ProviderID, &a.SchedulingRequestID,
		&a.StartTS, &a.EndTS, &a.Status, &a.Location, &a.RecurringRule,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *apptRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointment SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	return err
}

func (r *apptRepoPG) ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*AppointmentView, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT a.id, a.client_id, a.provider_id, a.scheduling_request_id,
		       a.start_ts, a.end_ts, a.status, a.location, a.recurring_rule,
		       a.created_at, a.updated_at, u.full_name
		FROM appointment a
		JOIN app_user u ON u.id = a.client_id
		WHERE a.provider_id = $1 AND a.start_ts >= $2 AND a.start_ts < $3
		  AND a.status <> 'cancelled'
		ORDER BY a.start_ts`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []*AppointmentView
	for rows.Next() {
		var v AppointmentView
		if err := rows.Scan(&v.ID, &v.ClientID, &v.ProviderID, &v.SchedulingRequestID,
			&v.StartTS, &v.EndTS, &v.Status, &v.Location, &v.RecurringRule,
			&v.CreatedAt, &v.UpdatedAt, &v.ClientName); err != nil {
			return nil, err
		}
		views = append(views, &v)
	}
	return views, rows.Err()
}

func (r *apptRepoPG) ListByClient(ctx context.Context, clientID uuid.UUID, from time.Time) ([]*Appointment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE client_id = $1 AND start_ts >= $2 AND status <> 'cancelled'
		ORDER BY start_ts`, clientID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []*Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.ClientID, &a.ProviderID, &a.SchedulingRequestID,
			&a.StartTS, &a.EndTS, &a.Status, &a.Location, &a.RecurringRule,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		appts = append(appts, &a)
	}
	return appts, rows.Err()
}
