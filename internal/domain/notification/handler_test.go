package notification

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
	"github.com/rs/zerolog"

	"github.com/therapia/therapia/internal/platform/auth"
)

func newTestServer(repo *fakeRepo) *echo.Echo {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if uid := c.Request().Header.Get("X-Test-User"); uid != "" {
				ctx = context.WithValue(ctx, auth.UserIDKey, uid)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	svc := NewService(repo, nil, zerolog.Nop())
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func doReq(e *echo.Echo, method, path string, userID uuid.UUID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Test-User", userID.String())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func seed(repo *fakeRepo, userID uuid.UUID, read bool) *Notification {
	n := &Notification{
		ID:     uuid.New(),
		UserID: userID,
		Type:   TypeSchedulingRequest,
		Title:  "New scheduling request",
		IsRead: read,
	}
	repo.items = append(repo.items, n)
	return n
}

func TestHandler_List(t *testing.T) {
	repo := &fakeRepo{}
	e := newTestServer(repo)
	userID := uuid.New()

	seed(repo, userID, false)
	seed(repo, userID, true)
	seed(repo, uuid.New(), false)

	rec := doReq(e, http.MethodGet, "/api/v1/notifications", userID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var ns []*Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &ns); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ns) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(ns))
	}
}

func TestHandler_List_EmptyFeedIsArray(t *testing.T) {
	e := newTestServer(&fakeRepo{})

	rec := doReq(e, http.MethodGet, "/api/v1/notifications", uuid.New())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestHandler_UnreadCount(t *testing.T) {
	repo := &fakeRepo{}
	e := newTestServer(repo)
	userID := uuid.New()

	seed(repo, userID, false)
	seed(repo, userID, false)
	seed(repo, userID, true)

	rec := doReq(e, http.MethodGet, "/api/v1/notifications/unread-count", userID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["unread"] != 2 {
		t.Fatalf("unread = %d, want 2", body["unread"])
	}
}

func TestHandler_MarkRead(t *testing.T) {
	repo := &fakeRepo{}
	e := newTestServer(repo)
	userID := uuid.New()
	n := seed(repo, userID, false)

	rec := doReq(e, http.MethodPost, fmt.Sprintf("/api/v1/notifications/%s/mark-read", n.ID), userID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !n.IsRead {
		t.Fatal("notification not marked read")
	}
}

func TestHandler_MarkRead_NotOwner(t *testing.T) {
	repo := &fakeRepo{}
	e := newTestServer(repo)
	n := seed(repo, uuid.New(), false)

	rec := doReq(e, http.MethodPost, fmt.Sprintf("/api/v1/notifications/%s/mark-read", n.ID), uuid.New())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandler_MarkRead_BadID(t *testing.T) {
	e := newTestServer(&fakeRepo{})

	rec := doReq(e, http.MethodPost, "/api/v1/notifications/not-a-uuid/mark-read", uuid.New())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	e := newTestServer(&fakeRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
