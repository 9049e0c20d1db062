package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/therapia/therapia/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Therapist calendar
	therapist := api.Group("/therapist", auth.RequireRole("therapist"))
	therapist.GET("/calendar/week/:week_start", h.WeeklyCalendar)
	therapist.POST("/calendar/slots", h.CreateSlots)
	therapist.DELETE("/calendar/slots/:id", h.DeleteSlot)
	therapist.GET("/calendar/slots", h.ListSlots)
	therapist.POST("/appointments", h.CreateAppointment)
	therapist.POST("/appointments/:id/cancel", h.CancelAppointment)
	therapist.POST("/appointments/:id/reschedule", h.RescheduleAppointment)
	therapist.POST("/appointments/:id/start", h.StartSession)
	therapist.POST("/appointments/:id/complete", h.EndSession)
	therapist.POST("/appointments/:id/no-show", h.MarkNoShow)
	therapist.GET("/appointments", h.ProviderAppointments)

	// Client-facing surface
	client := api.Group("/client", auth.RequireRole("client"))
	client.GET("/therapists/:id/available-slots", h.AvailableSlots)
	client.POST("/scheduling-requests", h.CreateRequest)
	client.GET("/appointments", h.ClientAppointments)
	client.POST("/appointments/:id/cancel", h.CancelAppointment)
	client.POST("/appointments/:id/confirm", h.ConfirmAppointment)

	// Shared request ledger
	reqs := api.Group("/scheduling-requests", auth.RequireRole("therapist", "client"))
	reqs.GET("/pending", h.PendingRequests)
	reqs.POST("/:id/respond", h.RespondToRequest, auth.RequireRole("therapist"))
	reqs.POST("/:id/cancel", h.CancelRequest, auth.RequireRole("client"))
}

// httpError maps domain errors onto transport status codes.
func httpError(err error) error {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return echo.NewHTTPError(http.StatusConflict, conflict.Error())
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrNotOwned), errors.Is(err, ErrNotAssigned):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSlotConflict), errors.Is(err, ErrDuplicateSlot):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrPastDate),
		errors.Is(err, ErrMisaligned), errors.Is(err, ErrSlotBooked),
		errors.Is(err, ErrInsufficientAvailability), errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}

func callerID(c echo.Context) (uuid.UUID, error) {
	caller := auth.CallerFromContext(c.Request().Context())
	if caller.UserID == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(caller.UserID)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid caller identity")
	}
	return id, nil
}

// parseSpan combines a date with wall-clock start/end times into UTC
// timestamps.
func parseSpan(date, startTime, endTime string) (time.Time, time.Time, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
	}
	st, err := time.Parse("15:04", startTime)
	if err != nil {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid start_time, want HH:MM")
	}
	et, err := time.Parse("15:04", endTime)
	if err != nil {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid end_time, want HH:MM")
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), st.Hour(), st.Minute(), 0, 0, time.UTC)
	end := time.Date(day.Year(), day.Month(), day.Day(), et.Hour(), et.Minute(), 0, 0, time.UTC)
	return start, end, nil
}

// -- Slot Store --

type createSlotsRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *Handler) CreateSlots(c echo.Context) error {
	providerID, err := callerID(c)
	if err != nil {
		return err
	}
	var req createSlotsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	start, end, err := parseSpan(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return err
	}

	if end.Sub(start) == SlotDuration {
		slot, err := h.svc.CreateSlot(c.Request().Context(), providerID, start, end)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusCreated, []*Slot{slot})
	}

	slots, err := h.svc.CreateAvailability(c.Request().Context(), providerID, start, end)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, slots)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	providerID, err := callerID(c)
	if err != nil {
		return err
	}
	slotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid slot id")
	}
	if err := h.svc.DeleteSlot(c.Request().Context(), providerID, slotID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListSlots(c echo.Context) error {
	providerID, err := callerID(c)
	if err != nil {
		return err
	}
	from, to, err := weekWindow(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return err
	}
	slots, err := h.svc.ListSlots(c.Request().Context(), providerID, from, to, c.QueryParam("status"))
	if err != nil {
		return httpError(err)
	}
	if slots == nil {
		slots = []*Slot{}
	}
	return c.JSON(http.StatusOK, slots)
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	therapistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid therapist id")
	}
	var from, to time.Time
	if v := c.QueryParam("start_date"); v != "" {
		from, err = time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid start_date")
		}
	}
	if v := c.QueryParam("end_date"); v != "" {
		to, err = time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid end_date")
		}
		to = to.AddDate(0, 0, 1) // end_date is inclusive
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), therapistID, from, to)
	if err != nil {
		return httpError(err)
	}
	if slots == nil {
		slots = []*Slot{}
	}
	return c.JSON(http.StatusOK, slots)
}

func (h *Handler) WeeklyCalendar(c echo.Context) error {
	providerID, err := callerID(c)
	if err != nil {
		return err
	}
	weekStart, err := time.Parse("2006-01-02", c.Param("week_start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid week_start, want YYYY-MM-DD")
	}
	week, err := h.svc.WeeklyCalendar(c.Request().Context(), providerID, weekStart)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, week)
}

// -- Request Ledger --

type createRequestRequest struct {
	TherapistID string  `json:"therapist_id"`
	Date        string  `json:"date"`
	StartTime   string  `json:"start_time"`
	EndTime     string  `json:"end_time"`
	Message     *string `json:"message,omitempty"`
}

func (h *Handler) CreateRequest(c echo.Context) error {
	clientID, err := callerID(c)
	if err != nil {
		return err
	}
	var req createRequestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	therapistID, err := uuid.Parse(req.TherapistID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid therapist_id")
	}
	start, end, err := parseSpan(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return err
	}
	created, err := h.svc.CreateRequest(c.Request().Context(), clientID, therapistID, start, end, req.Message)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) PendingRequests(c echo.Context) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	caller := auth.CallerFromContext(c.Request().Context())
	reqs, err := h.svc.PendingRequests(c.Request().Context(), userID, caller.HasRole("therapist"))
	if err != nil {
		return httpError(err)
	}
	if reqs == nil {
		reqs = []*SchedulingRequest{}
	}
	return c.JSON(http.StatusOK, reqs)
}

type respondRequest struct {
	Status                string          `json:"status"`
	ProviderResponse      *string         `json:"provider_response,omitempty"`
	SuggestedAlternatives json.RawMessage `json:"suggested_alternatives,omitempty"`
}

func (h *Handler) RespondToRequest(c echo.Context) error {
	providerID, err := callerID(c)
	if err != nil {
		return err
	}
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request id")
	}
	var req respondRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, appt, err := h.svc.RespondToRequest(c.Request().Context(), providerID, requestID,
		req.Status, req.ProviderResponse, req.SuggestedAlternatives)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"request":     updated,
		"appointment": appt,
	})
}

type cancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

func (h *Handler) CancelRequest(c echo.Context) error {
	clientID, err := callerID(c)
	if err != nil {
		return err
	}
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request id")
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cancelled, err := h.svc.CancelRequest(c.Request().Context(), clientID, requestID, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cancelled)
}

// -- Appointments --

type createAppointmentRequest struct {
	ClientID        string  `json:"client_id"`
	StartTS         string  `json:"start_ts"`
	DurationMinutes int     `json:"duration_minutes"`
	Location        *string `json:"location,omitempty"`
	RecurringRule   *string `json:"recurring_rule,omitempty"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	providerID, err := callerID(c)
	if err != nil {
		return err
	}
	var req createAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid client_id")
	}
	start, err := time.Parse(time.RFC3339, req.StartTS)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start_ts, want RFC 3339")
	}
	if req.DurationMinutes <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "duration_minutes must be positive")
	}
	end := start.Add(time.Duration(req.DurationMinutes) * time.Minute)

	appts, err := h.svc.CreateAppointment(c.Request().Context(), providerID, clientID,
		start, end, req.Location, req.RecurringRule)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appts)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	apptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.CancelAppointment(c.Request().Context(), userID, apptID, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

type rescheduleRequest struct {
	StartTS         string `json:"start_ts"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	apptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	start, err := time.Parse(time.RFC3339, req.StartTS)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start_ts, want RFC 3339")
	}
	if req.DurationMinutes <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "duration_minutes must be positive")
	}
	appt, err := h.svc.RescheduleAppointment(c.Request().Context(), userID, apptID,
		start, start.Add(time.Duration(req.DurationMinutes)*time.Minute))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// sessionStatus runs one lifecycle transition and returns the updated
// appointment.
func (h *Handler) sessionStatus(c echo.Context, fn func(context.Context, uuid.UUID, uuid.UUID) (*Appointment, error)) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	apptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	appt, err := fn(c.Request().Context(), userID, apptID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ConfirmAppointment(c echo.Context) error {
	return h.sessionStatus(c, h.svc.ConfirmAppointment)
}

func (h *Handler) StartSession(c echo.Context) error {
	return h.sessionStatus(c, h.svc.StartSession)
}

func (h *Handler) EndSession(c echo.Context) error {
	return h.sessionStatus(c, h.svc.EndSession)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	return h.sessionStatus(c, h.svc.MarkNoShow)
}

func (h *Handler) ProviderAppointments(c echo.Context) error {
	providerID, err := callerID(c)
	if err != nil {
		return err
	}
	from, to, err := weekWindow(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return err
	}
	appts, err := h.svc.ProviderAppointments(c.Request().Context(), providerID, from, to)
	if err != nil {
		return httpError(err)
	}
	if appts == nil {
		appts = []*AppointmentView{}
	}
	return c.JSON(http.StatusOK, appts)
}

func (h *Handler) ClientAppointments(c echo.Context) error {
	clientID, err := callerID(c)
	if err != nil {
		return err
	}
	var from time.Time
	if v := c.QueryParam("from"); v != "" {
		from, err = time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
		}
	}
	appts, err := h.svc.ClientAppointments(c.Request().Context(), clientID, from)
	if err != nil {
		return httpError(err)
	}
	if appts == nil {
		appts = []*Appointment{}
	}
	return c.JSON(http.StatusOK, appts)
}

// weekWindow parses optional from/to date query params, defaulting to the
// current week.
func weekWindow(fromStr, toStr string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.Truncate(24 * time.Hour).AddDate(0, 0, -int(now.Weekday()))
	if fromStr != "" {
		var err error
		from, err = time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
		}
	}
	to := from.AddDate(0, 0, 7)
	if toStr != "" {
		var err error
		to, err = time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
		}
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}
