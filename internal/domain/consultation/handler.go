package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/consult/internal/domain/account"
	"github.com/carelink/consult/internal/platform/auth"
	"github.com/carelink/consult/internal/platform/meeting"
	"github.com/carelink/consult/pkg/pagination"
)

type Handler struct {
	svc      *Service
	meetings meeting.Provisioner
	duration time.Duration
	logger   zerolog.Logger
}

// NewHandler builds the consultation endpoints. meetings may be nil, in which
// case no room is provisioned.
func NewHandler(svc *Service, meetings meeting.Provisioner, duration time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, meetings: meetings, duration: duration, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/consultations", h.Create, auth.RequireCapability(auth.CapCreateConsultation))
	api.GET("/consultations", h.List)
	api.GET("/consultations/queue", h.Queue, auth.RequireCapability(auth.CapViewQueue))
	api.GET("/consultations/stats", h.Stats, auth.RequireCapability(auth.CapViewAll))
	api.GET("/consultations/:id", h.Get)
	api.GET("/consultations/:id/history", h.History)
	api.POST("/consultations/:id/cancel", h.Cancel)

	// Nurse actions
	nurse := api.Group("", auth.RequireCapability(auth.CapTriage))
	nurse.POST("/consultations/:id/claim", h.Claim)
	nurse.PUT("/consultations/:id/triage", h.FinalizeTriage)
	nurse.POST("/consultations/:id/transfer", h.Transfer)

	api.GET("/consultations/:id/documents", h.Documents)

	// Professional actions
	prof := api.Group("", auth.RequireCapability(auth.CapAttend))
	prof.POST("/consultations/:id/start-session", h.StartSession)
	prof.POST("/consultations/:id/complete", h.Complete)
	prof.PUT("/consultations/:id/documents/:kind", h.SaveDocument)
}

// HTTPError maps domain errors onto HTTP status codes. Anything unmapped is a
// 500 whose cause stays internal for the request logger.
func HTTPError(err error) error {
	var (
		ve *ValidationError
		pe *PreconditionError
	)
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.As(err, &pe):
		return echo.NewHTTPError(http.StatusConflict, pe.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, account.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func identity(c echo.Context) auth.Identity {
	id, _ := auth.IdentityFromContext(c.Request().Context())
	return id
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// ensureMeeting provisions a room when the consultation has none. Failures
// are logged; the consultation is returned either way.
func (h *Handler) ensureMeeting(ctx context.Context, c *Consultation) *Consultation {
	if h.meetings == nil || c.Meeting != nil || c.Status.Terminal() {
		return c
	}
	ref, err := h.meetings.CreateRoom(ctx, fmt.Sprintf("Consultation %s", c.ID), h.duration)
	if err != nil {
		h.logger.Warn().Err(err).Str("consultation_id", c.ID.String()).Msg("meeting provisioning failed")
		return c
	}
	updated, err := h.svc.AttachMeeting(ctx, c.ID, *ref)
	if err != nil {
		h.logger.Warn().Err(err).Str("consultation_id", c.ID.String()).Msg("meeting attach failed")
		return c
	}
	updated.Triage = c.Triage
	return updated
}

func (h *Handler) Create(c echo.Context) error {
	var in Intake
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Create(c.Request().Context(), identity(c).ID, in)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var status *Status
	if q := c.QueryParam("status"); q != "" {
		st, err := ParseStatus(q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		status = &st
	}
	items, total, err := h.svc.ListForActor(c.Request().Context(), identity(c), status, pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Queue(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Engine().PendingQueue(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Stats(c echo.Context) error {
	s, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetForActor(c.Request().Context(), id, identity(c))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) History(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.svc.GetForActor(ctx, id, identity(c)); err != nil {
		return HTTPError(err)
	}
	items, err := h.svc.History(ctx, id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Claim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	out, err := h.svc.Engine().ClaimFromQueue(ctx, id, identity(c).ID)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.ensureMeeting(ctx, out))
}

func (h *Handler) FinalizeTriage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var u TriageUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.FinalizeTriage(c.Request().Context(), id, identity(c).ID, u)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

type transferRequest struct {
	ProfessionalID string `json:"professional_id"`
}

func (h *Handler) Transfer(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	profID, err := uuid.Parse(req.ProfessionalID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid professional_id")
	}
	out, err := h.svc.Engine().TransferToProfessional(c.Request().Context(), id, identity(c).ID, profID)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) StartSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	out, err := h.svc.StartSession(ctx, id, identity(c).ID)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, h.ensureMeeting(ctx, out))
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var done Completion
	if err := c.Bind(&done); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Complete(c.Request().Context(), id, identity(c).ID, done)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Cancel(c.Request().Context(), id, identity(c), req.Reason)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Documents(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.svc.GetForActor(ctx, id, identity(c)); err != nil {
		return HTTPError(err)
	}
	items, err := h.svc.Documents(ctx, id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type documentRequest struct {
	Content json.RawMessage `json:"content"`
}

func (h *Handler) SaveDocument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req documentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doc, err := h.svc.SaveDocument(c.Request().Context(), id, identity(c).ID, DocumentKind(c.Param("kind")), req.Content)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, doc)
}
