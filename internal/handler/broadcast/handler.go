package broadcast

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gatherhq/messaging-api/internal/middleware"
	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/service/broadcast"
	apperrors "github.com/gatherhq/messaging-api/pkg/errors"
	"github.com/gatherhq/messaging-api/pkg/httputil"
)

type Handler struct {
	service *broadcast.Service
}

func NewHandler(service *broadcast.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	broadcasts := r.Group("/broadcasts")
	{
		broadcasts.POST("", h.Create)
		broadcasts.GET("", h.List)
		broadcasts.GET("/:id", h.Get)
		broadcasts.POST("/:id/send", h.Send)
		broadcasts.GET("/:id/progress", h.Progress)
	}
}

type createRequest struct {
	Name         string     `json:"name" binding:"required"`
	EventID      *uuid.UUID `json:"event_id"`
	TemplateID   *uuid.UUID `json:"template_id"`
	Body         string     `json:"body"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("not authenticated", nil))
		return
	}

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	b, err := h.service.CreateBroadcast(c.Request.Context(), userID, broadcast.CreateInput{
		Name:         req.Name,
		EventID:      req.EventID,
		TemplateID:   req.TemplateID,
		Body:         req.Body,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, b)
}

type sendRequest struct {
	Recipients []model.Recipient `json:"recipients" binding:"required"`
}

// Send expands the draft into queued messages and starts delivery. For a
// scheduled broadcast the messages wait until the scheduled time.
func (h *Handler) Send(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("not authenticated", nil))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid broadcast ID", err))
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	b, err := h.service.ExpandAndSend(c.Request.Context(), userID, id, req.Recipients)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, b)
}

func (h *Handler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("not authenticated", nil))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid broadcast ID", err))
		return
	}

	b, err := h.service.GetBroadcast(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, b)
}

func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("not authenticated", nil))
		return
	}

	broadcasts, err := h.service.ListBroadcasts(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, broadcasts)
}

func (h *Handler) Progress(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("not authenticated", nil))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid broadcast ID", err))
		return
	}

	progress, err := h.service.Progress(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, progress)
}
