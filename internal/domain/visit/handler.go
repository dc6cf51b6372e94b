package visit

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ctms/ctms/internal/domain/participant"
	"github.com/ctms/ctms/internal/platform/sequence"
	"github.com/ctms/ctms/pkg/timeutil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/visits", h.CreateFirst)
	api.GET("/visits/:id", h.Get)
	api.POST("/visits/:id/conclude", h.Conclude)
	api.POST("/visits/:id/schedule", h.Schedule)
	api.POST("/visits/:id/documents", h.AttachDocument)
	api.GET("/participants/:id/visits", h.ListByParticipant)
}

type createFirstRequest struct {
	ParticipantID uuid.UUID `json:"participant_id"`
}

func (h *Handler) CreateFirst(c echo.Context) error {
	var req createFirstRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ParticipantID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "participant_id is required")
	}
	v, err := h.svc.CreateFirst(c.Request().Context(), req.ParticipantID)
	if err != nil {
		if errors.Is(err, participant.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "participant not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "visit not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Conclude(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	result, err := h.svc.Conclude(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, participant.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrInconsistentState):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, sequence.ErrContention):
			return echo.NewHTTPError(http.StatusServiceUnavailable,
				"randomization number allocation is contended, retry")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, result)
}

// scheduled_on arrives in whatever shape the caller's tooling produces:
// RFC3339 strings, bare dates, or epoch milliseconds from imported legacy
// records. Normalize maps them all onto one canonical form before parsing.
type scheduleRequest struct {
	ScheduledOn interface{} `json:"scheduled_on"`
}

func (h *Handler) Schedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	normalized := timeutil.Normalize(req.ScheduledOn)
	if normalized == "" {
		return echo.NewHTTPError(http.StatusBadRequest,
			"scheduled_on must be an RFC3339 timestamp, a YYYY-MM-DD date, or epoch milliseconds")
	}
	when, _ := timeutil.Parse(normalized)
	v, err := h.svc.Schedule(c.Request().Context(), id, when.UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "visit not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, v)
}

type attachDocumentRequest struct {
	Field     string `json:"field"`
	ObjectKey string `json:"object_key"`
}

func (h *Handler) AttachDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req attachDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.AttachDocument(c.Request().Context(), id, req.Field, req.ObjectKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "visit not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListByParticipant(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	visits, err := h.svc.ListByParticipant(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, visits)
}
