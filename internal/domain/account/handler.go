package account

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/consult/internal/platform/auth"
	"github.com/carelink/consult/pkg/pagination"
)

type Handler struct {
	svc *Service
	dir *Directory
}

func NewHandler(svc *Service, dir *Directory) *Handler {
	return &Handler{svc: svc, dir: dir}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/accounts/me", h.GetMe)
	api.PUT("/accounts/me/availability", h.SetMyAvailability, auth.RequireCapability(auth.CapSetAvailability))
	api.GET("/accounts/available", h.ListAvailable, auth.RequireCapability(auth.CapViewQueue))

	admin := api.Group("", auth.RequireCapability(auth.CapManageAccounts))
	admin.GET("/accounts", h.ListAccounts)
	admin.POST("/accounts", h.CreateAccount)
	admin.PUT("/accounts/:id/capacity", h.SetCapacity)
	admin.PUT("/accounts/:id/availability", h.SetAvailability)
}

// httpError maps service errors onto status codes. Store failures keep their
// text out of the response; the request logger records it.
func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmailTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) GetMe(c echo.Context) error {
	id := auth.UserIDFromContext(c.Request().Context())
	a, err := h.svc.GetAccount(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type availabilityRequest struct {
	Availability string `json:"availability"`
}

func (h *Handler) SetMyAvailability(c echo.Context) error {
	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.setAvailability(c, auth.UserIDFromContext(c.Request().Context()), req.Availability)
}

// SetAvailability lets an admin override a caregiver's availability.
func (h *Handler) SetAvailability(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.setAvailability(c, id, req.Availability)
}

func (h *Handler) setAvailability(c echo.Context, id uuid.UUID, raw string) error {
	availability, err := ParseAvailability(raw)
	if err != nil {
		return httpError(err)
	}
	a, err := h.svc.SetAvailability(c.Request().Context(), id, availability)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// ListAvailable lists online accounts of a role, the candidates for a
// transfer.
func (h *Handler) ListAvailable(c echo.Context) error {
	role, err := auth.ParseRole(c.QueryParam("role"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.dir.FindAvailableProfessionals(c.Request().Context(), role)
	if err != nil {
		return httpError(err)
	}
	out := make([]Summary, 0, len(items))
	for _, a := range items {
		out = append(out, a.Summary())
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListAccounts(c echo.Context) error {
	pg := pagination.FromContext(c)
	var role *auth.Role
	if q := c.QueryParam("role"); q != "" {
		r, err := auth.ParseRole(q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		role = &r
	}
	items, total, err := h.svc.ListAccounts(c.Request().Context(), role, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) CreateAccount(c echo.Context) error {
	var a Account
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateAccount(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

type capacityRequest struct {
	MaxCapacity int   `json:"max_capacity"`
	Active      *bool `json:"active"`
}

func (h *Handler) SetCapacity(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req capacityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	a, err := h.svc.SetCapacity(c.Request().Context(), id, req.MaxCapacity, active)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}
