package webhook

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/service/message"
	apperrors "github.com/gatherhq/messaging-api/pkg/errors"
	"github.com/gatherhq/messaging-api/pkg/httputil"
)

// Handler ingests delivery receipts pushed by the channel provider. The
// provider authenticates with a shared secret header, not a user token.
type Handler struct {
	service *message.Service
	secret  string
}

func NewHandler(service *message.Service, secret string) *Handler {
	return &Handler{service: service, secret: secret}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/delivery", h.DeliveryReceipt)
}

type deliveryReceipt struct {
	ProviderMessageID string `json:"provider_message_id" binding:"required"`
	Status            string `json:"status" binding:"required"`
}

func (h *Handler) DeliveryReceipt(c *gin.Context) {
	if h.secret != "" {
		got := c.GetHeader("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.Response{
				Success: false,
				Error:   &httputil.Error{Code: http.StatusUnauthorized, Message: "invalid webhook secret"},
			})
			return
		}
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("failed to read body", err))
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	var receipt deliveryReceipt
	if err := c.ShouldBindJSON(&receipt); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid receipt payload", err))
		return
	}

	err = h.service.RecordDeliveryReceipt(
		c.Request.Context(),
		receipt.ProviderMessageID,
		model.DeliveryStatusKind(receipt.Status),
		raw,
	)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"recorded": true})
}
