package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/therapia/therapia/internal/platform/auth"
)

// newTestServer wires the handler under an echo instance with a stub auth
// layer that reads identity from X-Test-User / X-Test-Roles headers.
func newTestServer(f *fixture) *echo.Echo {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if uid := c.Request().Header.Get("X-Test-User"); uid != "" {
				ctx = context.WithValue(ctx, auth.UserIDKey, uid)
			}
			if roles := c.Request().Header.Get("X-Test-Roles"); roles != "" {
				ctx = context.WithValue(ctx, auth.UserRolesKey, strings.Split(roles, ","))
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(f.svc).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func doJSON(e *echo.Echo, method, path string, body string, userID uuid.UUID, roles string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Test-User", userID.String())
	req.Header.Set("X-Test-Roles", roles)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateSlots(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	providerID := uuid.New()

	rec := doJSON(e, http.MethodPost, "/api/v1/therapist/calendar/slots",
		`{"date":"2026-03-03","start_time":"09:00","end_time":"10:00"}`,
		providerID, "therapist")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var slots []*Slot
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(slots) != 4 {
		t.Errorf("expected 4 slots, got %d", len(slots))
	}
}

func TestHandler_CreateSlots_BadTime(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)

	rec := doJSON(e, http.MethodPost, "/api/v1/therapist/calendar/slots",
		`{"date":"2026-03-03","start_time":"09:05","end_time":"09:20"}`,
		uuid.New(), "therapist")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for misaligned times, got %d", rec.Code)
	}
}

func TestHandler_CreateSlots_RoleEnforced(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)

	rec := doJSON(e, http.MethodPost, "/api/v1/therapist/calendar/slots",
		`{"date":"2026-03-03","start_time":"09:00","end_time":"09:15"}`,
		uuid.New(), "client")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for client on therapist route, got %d", rec.Code)
	}
}

func TestHandler_DeleteSlot(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	providerID := uuid.New()

	slot, err := f.svc.CreateSlot(context.Background(), providerID, at(9, 0), at(9, 15))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	rec := doJSON(e, http.MethodDelete, "/api/v1/therapist/calendar/slots/"+slot.ID.String(),
		"", providerID, "therapist")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodDelete, "/api/v1/therapist/calendar/slots/"+slot.ID.String(),
		"", providerID, "therapist")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing slot, got %d", rec.Code)
	}
}

func TestHandler_DeleteSlot_Booked(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	providerID := uuid.New()
	ctx := context.Background()

	slot, err := f.svc.CreateSlot(ctx, providerID, at(9, 0), at(9, 15))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	if _, err := f.slots.MarkBooked(ctx, providerID, at(9, 0), at(9, 15)); err != nil {
		t.Fatalf("MarkBooked: %v", err)
	}

	rec := doJSON(e, http.MethodDelete, "/api/v1/therapist/calendar/slots/"+slot.ID.String(),
		"", providerID, "therapist")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for booked slot, got %d", rec.Code)
	}
}

func TestHandler_AvailableSlots(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	providerID := uuid.New()
	f.seedSlots(t, providerID, at(9, 0), at(9, 30))

	path := fmt.Sprintf("/api/v1/client/therapists/%s/available-slots?start_date=2026-03-03&end_date=2026-03-03", providerID)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Test-User", uuid.New().String())
	req.Header.Set("X-Test-Roles", "client")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var slots []*Slot
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(slots) != 2 {
		t.Errorf("expected 2 slots, got %d", len(slots))
	}
}

func TestHandler_RequestLifecycle(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	providerID, clientID := uuid.New(), uuid.New()
	f.seedSlots(t, providerID, at(9, 0), at(10, 0))

	body := fmt.Sprintf(`{"therapist_id":%q,"date":"2026-03-03","start_time":"09:00","end_time":"09:30","message":"hi"}`, providerID)
	rec := doJSON(e, http.MethodPost, "/api/v1/client/scheduling-requests", body, clientID, "client")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create request: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var req SchedulingRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/scheduling-requests/pending", "", providerID, "therapist")
	if rec.Code != http.StatusOK {
		t.Fatalf("pending: expected 200, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/scheduling-requests/"+req.ID.String()+"/respond",
		`{"status":"approved"}`, providerID, "therapist")
	if rec.Code != http.StatusOK {
		t.Fatalf("respond: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Request     *SchedulingRequest `json:"request"`
		Appointment *Appointment       `json:"appointment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Request.Status != RequestApproved {
		t.Errorf("request status %s", out.Request.Status)
	}
	if out.Appointment == nil {
		t.Fatal("approval returned no appointment")
	}

	// A second response is rejected.
	rec = doJSON(e, http.MethodPost, "/api/v1/scheduling-requests/"+req.ID.String()+"/respond",
		`{"status":"declined"}`, providerID, "therapist")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on re-response, got %d", rec.Code)
	}
}

func TestHandler_RespondConflict(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	providerID := uuid.New()
	first, second := uuid.New(), uuid.New()
	f.appts.names[first] = "Ada Client"
	f.seedSlots(t, providerID, at(9, 0), at(10, 0))
	ctx := context.Background()

	reqA, err := f.svc.CreateRequest(ctx, first, providerID, at(9, 0), at(9, 30), nil)
	if err != nil {
		t.Fatalf("CreateRequest A: %v", err)
	}
	reqB, err := f.svc.CreateRequest(ctx, second, providerID, at(9, 15), at(9, 45), nil)
	if err != nil {
		t.Fatalf("CreateRequest B: %v", err)
	}
	if _, _, err := f.svc.RespondToRequest(ctx, providerID, reqA.ID, RequestApproved, nil, nil); err != nil {
		t.Fatalf("approve A: %v", err)
	}

	rec := doJSON(e, http.MethodPost, "/api/v1/scheduling-requests/"+reqB.ID.String()+"/respond",
		`{"status":"approved"}`, providerID, "therapist")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Ada Client") {
		t.Error("conflict body does not name the colliding client")
	}
}

func TestHandler_CancelRequest_RoleEnforced(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	providerID, clientID := uuid.New(), uuid.New()
	f.seedSlots(t, providerID, at(9, 0), at(10, 0))

	req, err := f.svc.CreateRequest(context.Background(), clientID, providerID, at(9, 0), at(9, 30), nil)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	// Therapists cannot use the client cancel endpoint.
	rec := doJSON(e, http.MethodPost, "/api/v1/scheduling-requests/"+req.ID.String()+"/cancel",
		"", providerID, "therapist")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/scheduling-requests/"+req.ID.String()+"/cancel",
		`{"reason":"conflict"}`, clientID, "client")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_CreateAppointment(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	providerID, clientID := uuid.New(), uuid.New()
	f.dir.assign(providerID, clientID)

	body := fmt.Sprintf(`{"client_id":%q,"start_ts":"2026-03-03T10:00:00Z","duration_minutes":30,"location":"office 2"}`, clientID)
	rec := doJSON(e, http.MethodPost, "/api/v1/therapist/appointments", body, providerID, "therapist")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var appts []*Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(appts))
	}
	if appts[0].Location == nil || *appts[0].Location != "office 2" {
		t.Error("location not persisted")
	}
}

func TestHandler_CreateAppointment_Unassigned(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)

	body := fmt.Sprintf(`{"client_id":%q,"start_ts":"2026-03-03T10:00:00Z","duration_minutes":30}`, uuid.New())
	rec := doJSON(e, http.MethodPost, "/api/v1/therapist/appointments", body, uuid.New(), "therapist")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for unassigned client, got %d", rec.Code)
	}
}

func TestHandler_WeeklyCalendar(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	providerID := uuid.New()
	f.seedSlots(t, providerID, at(9, 0), at(10, 0))

	rec := doJSON(e, http.MethodGet, "/api/v1/therapist/calendar/week/2026-03-02", "", providerID, "therapist")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var week WeekView
	if err := json.Unmarshal(rec.Body.Bytes(), &week); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(week.Slots) != 4 {
		t.Errorf("expected 4 slots, got %d", len(week.Slots))
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/therapist/calendar/week/2026-03-02", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without identity, got %d", rec.Code)
	}
}

func TestHandler_SessionLifecycleRoutes(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	providerID, clientID := uuid.New(), uuid.New()
	appt := scheduledAppointment(t, f, providerID, clientID)
	base := fmt.Sprintf("/api/v1/therapist/appointments/%s", appt.ID)

	rec := doJSON(e, http.MethodPost, fmt.Sprintf("/api/v1/client/appointments/%s/confirm", appt.ID), "", clientID, "client")
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodPost, base+"/start", "", providerID, "therapist")
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodPost, base+"/complete", "", providerID, "therapist")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var done Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &done); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if done.Status != ApptCompleted {
		t.Errorf("status %s, want completed", done.Status)
	}

	// Completed is terminal for no-show.
	rec = doJSON(e, http.MethodPost, base+"/no-show", "", providerID, "therapist")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no-show after complete: expected 400, got %d", rec.Code)
	}
}
