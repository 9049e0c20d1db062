package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/therapia/therapia/internal/platform/auth"
	"github.com/therapia/therapia/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/users/me", h.Me)

	admin := api.Group("/admin", auth.RequireRole("admin"))
	admin.POST("/users", h.RegisterUser)
	admin.GET("/users", h.ListUsers)
	admin.GET("/users/:id", h.GetUser)
	admin.GET("/users/:id/deletion-impact", h.DeletionImpact)
	admin.PATCH("/users/:id/disabled", h.SetDisabled)
	admin.DELETE("/users/:id", h.DeleteUser)

	therapist := api.Group("/therapist", auth.RequireRole("therapist"))
	therapist.GET("/clients", h.ListClients)
	therapist.POST("/clients", h.AssignClient)
	therapist.DELETE("/clients/:id", h.UnassignClient)
}

func (h *Handler) Me(c echo.Context) error {
	caller := auth.CallerFromContext(c.Request().Context())
	id, err := uuid.Parse(caller.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, u)
}

type registerRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

func (h *Handler) RegisterUser(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.RegisterUser(c.Request().Context(), req.Email, req.FullName, req.Role)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	p := pagination.FromContext(c)
	users, total, err := h.svc.ListUsers(c.Request().Context(), c.QueryParam("role"), p.Limit, p.Offset)
	if err != nil {
		return mapError(err)
	}
	if users == nil {
		users = []*User{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, p.Limit, p.Offset))
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) DeletionImpact(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	impact, err := h.svc.DeletionImpact(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, impact)
}

func (h *Handler) SetDisabled(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Disabled *bool `json:"disabled"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Disabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "disabled is required")
	}
	if err := h.svc.SetDisabled(c.Request().Context(), id, *req.Disabled); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"disabled": *req.Disabled})
}

func (h *Handler) DeleteUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteUser(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListClients(c echo.Context) error {
	caller := auth.CallerFromContext(c.Request().Context())
	therapistID, err := uuid.Parse(caller.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	clients, err := h.svc.ListClients(c.Request().Context(), therapistID)
	if err != nil {
		return mapError(err)
	}
	if clients == nil {
		clients = []*User{}
	}
	return c.JSON(http.StatusOK, clients)
}

func (h *Handler) AssignClient(c echo.Context) error {
	caller := auth.CallerFromContext(c.Request().Context())
	therapistID, err := uuid.Parse(caller.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var req struct {
		ClientID string `json:"client_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid client_id")
	}
	if err := h.svc.AssignClient(c.Request().Context(), therapistID, clientID); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusCreated)
}

func (h *Handler) UnassignClient(c echo.Context) error {
	caller := auth.CallerFromContext(c.Request().Context())
	therapistID, err := uuid.Parse(caller.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	clientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid client id")
	}
	if err := h.svc.UnassignClient(c.Request().Context(), therapistID, clientID); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	case errors.Is(err, ErrDuplicateEmail):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUserReferenced):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
