package controllers

import (
	"errors"
	"io"
	"net/http"

	"payment-service/middleware"
	"payment-service/models"
	"payment-service/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentController handles the payment lifecycle HTTP surface.
type PaymentController struct {
	Orchestrator services.PaymentOrchestrator
	Webhooks     services.WebhookProcessor
	Logger       *zap.Logger
}

func NewPaymentController(orchestrator services.PaymentOrchestrator, webhooks services.WebhookProcessor, logger *zap.Logger) *PaymentController {
	return &PaymentController{
		Orchestrator: orchestrator,
		Webhooks:     webhooks,
		Logger:       logger,
	}
}

// InitiatePayment handles POST /payment/initiate
func (pc *PaymentController) InitiatePayment(c *gin.Context) {
	var req models.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	userID := middleware.GetUserID(c)
	resp, svcErr := pc.Orchestrator.Initiate(c.Request.Context(), userID, &req)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ConfirmPayment handles POST /payment/confirm
func (pc *PaymentController) ConfirmPayment(c *gin.Context) {
	var req models.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	resp, svcErr := pc.Orchestrator.ConfirmClientCallback(c.Request.Context(), &req)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GatewayWebhook handles POST /payment/webhook. The body must reach the
// processor as raw bytes: the signature covers the exact byte sequence.
func (pc *PaymentController) GatewayWebhook(c *gin.Context) {
	rawBody, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read body"})
		return
	}

	result := pc.Webhooks.Handle(c.Request.Context(), rawBody, c.GetHeader("X-Gateway-Signature"))
	c.JSON(result.StatusCode, result)
}

// GetOrder handles GET /payment/orders/:order_id — the lookup used by
// support and reconciliation tooling.
func (pc *PaymentController) GetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order id"})
		return
	}

	order, payments, svcErr := pc.Orchestrator.GetOrder(c.Request.Context(), orderID)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order, "payments": payments})
}

// RefundOrder handles POST /payment/orders/:order_id/refund
func (pc *PaymentController) RefundOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order id"})
		return
	}

	// an empty body means a full refund
	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	resp, svcErr := pc.Orchestrator.RequestRefund(c.Request.Context(), orderID, &req)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// CancelOrder handles POST /payment/orders/:order_id/cancel
func (pc *PaymentController) CancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order id"})
		return
	}

	order, svcErr := pc.Orchestrator.CancelOrder(c.Request.Context(), orderID)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}
