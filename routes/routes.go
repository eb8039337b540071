package routes

import (
	"net/http"

	"payment-service/controllers"
	"payment-service/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterPaymentRoutes(r *gin.Engine, pc *controllers.PaymentController) {
	payments := r.Group("/payment")
	payments.Use(middleware.AuthMiddleware())
	payments.POST("/initiate", pc.InitiatePayment)
	payments.POST("/confirm", pc.ConfirmPayment)
	payments.GET("/orders/:order_id", pc.GetOrder)
	payments.POST("/orders/:order_id/refund", pc.RefundOrder)
	payments.POST("/orders/:order_id/cancel", pc.CancelOrder)

	// Gateway webhook (no auth, signature-verified instead)
	r.POST("/payment/webhook", pc.GatewayWebhook)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
}
