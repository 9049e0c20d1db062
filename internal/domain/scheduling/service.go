package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/therapia/therapia/internal/domain/notification"
	"github.com/therapia/therapia/internal/platform/cache"
	"github.com/therapia/therapia/internal/platform/db"
)

// availabilityWindow is the default client-facing lookahead.
const availabilityWindow = 28 * 24 * time.Hour

// availabilityTTL bounds how stale a cached availability read may be.
const availabilityTTL = time.Minute

// clientRequestHistory is how far back a client sees their own requests.
const clientRequestHistory = 30 * 24 * time.Hour

// Notifier appends to a user's notification feed. Implemented by
// notification.Service.
type Notifier interface {
	Create(ctx context.Context, n *notification.Notification) error
	// DeferPushes holds live pushes for notifications created under the
	// returned context until the returned flush runs.
	DeferPushes(ctx context.Context) (context.Context, func())
}

// Directory answers identity questions the booking engine needs.
// Implemented by identity.Service.
type Directory interface {
	IsAssigned(ctx context.Context, therapistID, clientID uuid.UUID) (bool, error)
	UserName(ctx context.Context, id uuid.UUID) (string, error)
}

type Service struct {
	slots    SlotRepository
	requests RequestRepository
	appts    AppointmentRepository
	notifier Notifier
	dir      Directory
	cache    *cache.Cache
	log      zerolog.Logger
	now      func() time.Time
	runTx    func(ctx context.Context, fn func(context.Context) error) error
}

// NewService wires the scheduling domain. pool may be nil in tests, in
// which case multi-step operations run without a surrounding transaction.
func NewService(slots SlotRepository, requests RequestRepository, appts AppointmentRepository,
	notifier Notifier, dir Directory, pool *pgxpool.Pool, c *cache.Cache, log zerolog.Logger) *Service {

	s := &Service{
		slots:    slots,
		requests: requests,
		appts:    appts,
		notifier: notifier,
		dir:      dir,
		cache:    c,
		log:      log,
		now:      time.Now,
	}
	run := func(ctx context.Context, fn func(context.Context) error) error {
		return fn(ctx)
	}
	if pool != nil {
		run = func(ctx context.Context, fn func(context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		}
	}
	// Ledger writes ride the transaction, but their live pushes must not
	// go out for a transaction that ends up rolled back.
	s.runTx = func(ctx context.Context, fn func(context.Context) error) error {
		ctx, flush := notifier.DeferPushes(ctx)
		if err := run(ctx, fn); err != nil {
			return err
		}
		flush()
		return nil
	}
	return s
}

// validateSpan enforces the grid invariants shared by every write path:
// a forward range, 15-minute alignment, and no scheduling in the past.
func (s *Service) validateSpan(start, end time.Time) error {
	if !start.Before(end) {
		return ErrInvalidRange
	}
	if !aligned(start) || !aligned(end) {
		return ErrMisaligned
	}
	if start.Before(s.now()) {
		return ErrPastDate
	}
	return nil
}

// -- Slot Store --

// CreateSlot opens a single 15-minute availability slot.
func (s *Service) CreateSlot(ctx context.Context, providerID uuid.UUID, start, end time.Time) (*Slot, error) {
	if err := s.validateSpan(start, end); err != nil {
		return nil, err
	}
	if end.Sub(start) != SlotDuration {
		return nil, ErrMisaligned
	}

	slot := &Slot{
		ProviderID: providerID,
		StartTS:    start,
		EndTS:      end,
		Status:     SlotAvailable,
	}
	if err := s.slots.Create(ctx, slot); err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx, providerID)
	return slot, nil
}

// CreateAvailability splits [start, end) into 15-minute slots and opens
// them all, skipping times that already have a slot.
func (s *Service) CreateAvailability(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]*Slot, error) {
	if err := s.validateSpan(start, end); err != nil {
		return nil, err
	}

	var created []*Slot
	for _, t := range increments(start, end) {
		slot := &Slot{
			ProviderID: providerID,
			StartTS:    t,
			EndTS:      t.Add(SlotDuration),
			Status:     SlotAvailable,
		}
		err := s.slots.Create(ctx, slot)
		if errors.Is(err, ErrDuplicateSlot) {
			continue
		}
		if err != nil {
			return nil, err
		}
		created = append(created, slot)
	}
	s.invalidateAvailability(ctx, providerID)
	return created, nil
}

// DeleteSlot removes an open slot. Booked slots cannot be destroyed; the
// appointment holding them must be cancelled first.
func (s *Service) DeleteSlot(ctx context.Context, providerID, slotID uuid.UUID) error {
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.ProviderID != providerID {
		return ErrNotOwned
	}
	if slot.Status == SlotBooked {
		return ErrSlotBooked
	}
	if err := s.slots.Delete(ctx, slotID); err != nil {
		return err
	}
	s.invalidateAvailability(ctx, providerID)
	return nil
}

// ListSlots returns a provider's own slots in [from, to), any status.
func (s *Service) ListSlots(ctx context.Context, providerID uuid.UUID, from, to time.Time, status string) ([]*Slot, error) {
	if status != "" && !validSlotStatuses[status] {
		return nil, fmt.Errorf("invalid slot status: %s", status)
	}
	return s.slots.List(ctx, providerID, from, to, status)
}

// AvailableSlots is the client-facing availability read. Results are cached
// per provider and window; every slot mutation invalidates the provider's
// cached windows.
func (s *Service) AvailableSlots(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*Slot, error) {
	if from.IsZero() {
		from = s.now()
	}
	if to.IsZero() {
		to = from.Add(availabilityWindow)
	}
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}

	key := availabilityKey(providerID, from, to)
	if raw, err := s.cache.Get(ctx, key); err == nil {
		var slots []*Slot
		if err := json.Unmarshal(raw, &slots); err == nil {
			return slots, nil
		}
	}

	slots, err := s.slots.List(ctx, providerID, from, to, SlotAvailable)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(slots); err == nil {
		if err := s.cache.Set(ctx, key, raw, availabilityTTL); err != nil {
			s.log.Warn().Err(err).Msg("availability cache write failed")
		}
	}
	return slots, nil
}

func availabilityKey(providerID uuid.UUID, from, to time.Time) string {
	return fmt.Sprintf("slots:%s:%d-%d", providerID, from.Unix(), to.Unix())
}

func (s *Service) invalidateAvailability(ctx context.Context, providerID uuid.UUID) {
	if err := s.cache.DeleteByPrefix(ctx, "slots:"+providerID.String()+":"); err != nil {
		s.log.Warn().Err(err).Msg("availability cache invalidation failed")
	}
}

// WeeklyCalendar assembles a provider's week: slots, appointments with
// client names, and the requests asking for times in that window.
func (s *Service) WeeklyCalendar(ctx context.Context, providerID uuid.UUID, weekStart time.Time) (*WeekView, error) {
	weekEnd := weekStart.AddDate(0, 0, 7)

	slots, err := s.slots.List(ctx, providerID, weekStart, weekEnd, "")
	if err != nil {
		return nil, err
	}
	appts, err := s.appts.ListByProvider(ctx, providerID, weekStart, weekEnd)
	if err != nil {
		return nil, err
	}
	reqs, err := s.requests.ListByProviderInWindow(ctx, providerID, weekStart, weekEnd)
	if err != nil {
		return nil, err
	}

	if slots == nil {
		slots = []*Slot{}
	}
	if appts == nil {
		appts = []*AppointmentView{}
	}
	if reqs == nil {
		reqs = []*SchedulingRequest{}
	}
	return &WeekView{
		WeekStart:    weekStart,
		WeekEnd:      weekEnd,
		Slots:        slots,
		Appointments: appts,
		Requests:     reqs,
	}, nil
}

// -- Request Ledger --

// CreateRequest files a client's ask for [start, end). The whole span must
// be covered by open availability, one slot per 15-minute increment.
func (s *Service) CreateRequest(ctx context.Context, clientID, providerID uuid.UUID, start, end time.Time, message *string) (*SchedulingRequest, error) {
	if err := s.validateSpan(start, end); err != nil {
		return nil, err
	}

	expected := len(increments(start, end))
	available, err := s.slots.CountAvailable(ctx, providerID, start, end)
	if err != nil {
		return nil, err
	}
	if available < expected {
		return nil, ErrInsufficientAvailability
	}

	req := &SchedulingRequest{
		ClientID:      clientID,
		ProviderID:    providerID,
		StartTS:       start,
		EndTS:         end,
		Status:        RequestPending,
		ClientMessage: message,
	}
	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.requests.Create(ctx, req); err != nil {
			return err
		}
		clientName, _ := s.dir.UserName(ctx, clientID)
		return s.notifier.Create(ctx, &notification.Notification{
			UserID:           providerID,
			Type:             notification.TypeSchedulingRequest,
			Title:            "New scheduling request",
			Message:          fmt.Sprintf("%s requested a session on %s", clientName, start.Format("Mon Jan 2 15:04")),
			RelatedRequestID: &req.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// PendingRequests returns what the caller is allowed to see: providers get
// their open queue, clients their own recent requests.
func (s *Service) PendingRequests(ctx context.Context, userID uuid.UUID, isProvider bool) ([]*SchedulingRequest, error) {
	if isProvider {
		return s.requests.ListPendingByProvider(ctx, userID)
	}
	return s.requests.ListRecentByClient(ctx, userID, s.now().Add(-clientRequestHistory), 10)
}

// CancelRequest withdraws a client's own pending request. Any other status
// is terminal and the cancellation is rejected.
func (s *Service) CancelRequest(ctx context.Context, clientID, requestID uuid.UUID, reason *string) (*SchedulingRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ClientID != clientID {
		return nil, ErrNotOwned
	}
	if req.Status != RequestPending {
		return nil, ErrInvalidState
	}

	by := "client"
	req.Status = RequestCancelled
	req.CancelledBy = &by
	req.CancellationReason = reason

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.requests.Update(ctx, req); err != nil {
			return err
		}
		clientName, _ := s.dir.UserName(ctx, clientID)
		return s.notifier.Create(ctx, &notification.Notification{
			UserID:           req.ProviderID,
			Type:             notification.TypeRequestCancelled,
			Title:            "Scheduling request cancelled",
			Message:          fmt.Sprintf("%s withdrew their request for %s", clientName, req.StartTS.Format("Mon Jan 2 15:04")),
			RelatedRequestID: &req.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}
