package message

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gatherhq/messaging-api/internal/middleware"
	"github.com/gatherhq/messaging-api/internal/service/message"
	apperrors "github.com/gatherhq/messaging-api/pkg/errors"
	"github.com/gatherhq/messaging-api/pkg/httputil"
)

type Handler struct {
	service *message.Service
}

func NewHandler(service *message.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	messages := r.Group("/messages")
	{
		messages.POST("", h.Send)
		messages.GET("/:id", h.Get)
		messages.GET("/:id/statuses", h.ListStatuses)
	}
}

type sendRequest struct {
	RecipientPhone string `json:"recipient_phone" binding:"required,phone"`
	Content        string `json:"content" binding:"required"`
	MediaURL       string `json:"media_url"`
}

// Send enqueues a single ad hoc message and attempts delivery immediately.
func (h *Handler) Send(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("not authenticated", nil))
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	msg, err := h.service.Enqueue(c.Request.Context(), userID, nil, req.RecipientPhone, req.Content, req.MediaURL)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if _, err := h.service.Drain(c.Request.Context(), []uuid.UUID{msg.ID}); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	msg, err = h.service.GetMessage(c.Request.Context(), userID, msg.ID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, msg)
}

func (h *Handler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("not authenticated", nil))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid message ID", err))
		return
	}

	msg, err := h.service.GetMessage(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, msg)
}

func (h *Handler) ListStatuses(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("not authenticated", nil))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid message ID", err))
		return
	}

	statuses, err := h.service.ListDeliveryStatuses(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, statuses)
}
