package session

import (
	"github.com/gin-gonic/gin"

	"github.com/gatherhq/messaging-api/internal/middleware"
	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/service/session"
	apperrors "github.com/gatherhq/messaging-api/pkg/errors"
	"github.com/gatherhq/messaging-api/pkg/httputil"
)

type Handler struct {
	service *session.Service
}

func NewHandler(service *session.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/session")
	{
		sessions.POST("/connect", h.Connect)
		sessions.GET("/status", h.Status)
		sessions.DELETE("", h.Disconnect)
	}
}

type connectRequest struct {
	Kind model.ConnectionKind `json:"kind" binding:"required"`
}

func (h *Handler) Connect(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("not authenticated", nil))
		return
	}

	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	sess, err := h.service.StartConnection(c.Request.Context(), userID, req.Kind)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, sess)
}

// Status polls the provider once and returns the reconciled session.
func (h *Handler) Status(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("not authenticated", nil))
		return
	}

	sess, err := h.service.PollOnce(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sess)
}

func (h *Handler) Disconnect(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("not authenticated", nil))
		return
	}

	sess, err := h.service.Disconnect(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sess)
}
