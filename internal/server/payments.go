package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/coursepay/internal/payment/domain"
	"github.com/smallbiznis/coursepay/internal/providers/pdf"
)

type createOrderRequest struct {
	EnrollmentID string `json:"enrollment_id"`
}

func (s *Server) CreatePaymentOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	enrollmentID, err := snowflake.ParseString(strings.TrimSpace(req.EnrollmentID))
	if err != nil || enrollmentID == 0 {
		AbortWithError(c, newValidationError("enrollment_id", "invalid_enrollment_id", "invalid enrollment id"))
		return
	}

	if s.limiter != nil && !s.limiter.AllowOrder(c.Request.Context(), enrollmentID.String()) {
		AbortWithError(c, ErrRateLimited)
		return
	}

	order, err := s.paymentSvc.InitiateOrder(c.Request.Context(), enrollmentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_id": order.PaymentID.String(),
		"order_id":   order.OrderID,
		"amount":     order.Amount,
		"currency":   order.Currency,
	})
}

type verifyPaymentRequest struct {
	OrderID          string `json:"order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (s *Server) VerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if s.limiter != nil && !s.limiter.AllowVerify(c.Request.Context(), strings.TrimSpace(req.OrderID)) {
		AbortWithError(c, ErrRateLimited)
		return
	}

	payment, err := s.paymentSvc.VerifyClientCapture(c.Request.Context(), paymentdomain.ClientCaptureRequest{
		OrderID:          req.OrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, paymentResponse(payment))
}

// HandleGatewayWebhook acknowledges every delivery with 200. The
// gateway is untrusted and retry-happy: processing outcomes, good or
// bad, are recorded in webhook_events, never surfaced to the caller.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	if s.limiter != nil {
		// Observe-only: a throttled delivery still gets its audit row
		// and a 200, otherwise the gateway retries forever.
		s.limiter.AllowWebhook(c.Request.Context())
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	headerSignature := strings.TrimSpace(c.GetHeader("X-Gateway-Signature"))
	_ = s.webhookSvc.Ingest(c.Request.Context(), payload, headerSignature)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) GetPayment(c *gin.Context) {
	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	payment, err := s.paymentSvc.GetByID(c.Request.Context(), paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, paymentResponse(payment))
}

type adminVerifyRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

func (s *Server) AdminVerifyPayment(c *gin.Context) {
	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req adminVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	decision := paymentdomain.AdminDecisionRequest{
		PaymentID: paymentID,
		AdminID:   currentUserID(c),
		Notes:     strings.TrimSpace(req.Notes),
	}

	var (
		payment *paymentdomain.Payment
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "approve":
		payment, err = s.paymentSvc.Approve(c.Request.Context(), decision)
	case "reject":
		payment, err = s.paymentSvc.Reject(c.Request.Context(), decision)
	default:
		AbortWithError(c, newValidationError("action", "invalid_action", "action must be approve or reject"))
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, paymentResponse(payment))
}

func (s *Server) GetPaymentReceipt(c *gin.Context) {
	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	payment, err := s.paymentSvc.GetByID(c.Request.Context(), paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if payment.Status != paymentdomain.StatusVerified {
		AbortWithError(c, paymentdomain.ErrInvalidStateTransition)
		return
	}

	enrollment, err := s.enrollmentSvc.GetByID(c.Request.Context(), payment.EnrollmentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	course, err := s.courseSvc.GetByID(c.Request.Context(), enrollment.CourseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data := pdf.ReceiptData{
		ReceiptNumber: payment.ID.String(),
		OrderID:       payment.GatewayOrderID,
		CourseTitle:   course.Title,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
	}
	if payment.GatewayPaymentID != nil {
		data.PaymentID = *payment.GatewayPaymentID
	}
	if payment.PaidAt != nil {
		data.DatePaid = payment.PaidAt.Format("2006-01-02")
	}
	if payment.VerifiedBy != nil {
		data.VerifiedBy = payment.VerifiedBy.String()
	}

	reader, err := s.pdfProvider.GenerateReceipt(c.Request.Context(), data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="receipt-`+payment.ID.String()+`.pdf"`)
	c.DataFromReader(http.StatusOK, -1, "application/pdf", reader, nil)
}

func paymentResponse(payment *paymentdomain.Payment) gin.H {
	resp := gin.H{
		"id":               payment.ID.String(),
		"enrollment_id":    payment.EnrollmentID.String(),
		"gateway_order_id": payment.GatewayOrderID,
		"amount":           payment.Amount,
		"currency":         payment.Currency,
		"status":           payment.Status,
		"webhook_received": payment.WebhookReceived,
		"webhook_verified": payment.WebhookVerified,
		"created_at":       payment.CreatedAt.Format(time.RFC3339),
	}
	if payment.GatewayPaymentID != nil {
		resp["gateway_payment_id"] = *payment.GatewayPaymentID
	}
	if payment.PaidAt != nil {
		resp["paid_at"] = payment.PaidAt.Format(time.RFC3339)
	}
	if payment.VerifiedAt != nil {
		resp["verified_at"] = payment.VerifiedAt.Format(time.RFC3339)
	}
	if payment.VerifiedBy != nil {
		resp["verified_by"] = payment.VerifiedBy.String()
	}
	return resp
}
