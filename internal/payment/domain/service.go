package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type OrderDetails struct {
	PaymentID snowflake.ID `json:"payment_id"`
	OrderID   string       `json:"order_id"`
	Amount    int64        `json:"amount"`
	Currency  string       `json:"currency"`
}

type ClientCaptureRequest struct {
	OrderID          string `json:"order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

type AdminDecisionRequest struct {
	PaymentID snowflake.ID
	AdminID   snowflake.ID
	Notes     string
}

type Service interface {
	InitiateOrder(ctx context.Context, enrollmentID snowflake.ID) (*OrderDetails, error)
	VerifyClientCapture(ctx context.Context, req ClientCaptureRequest) (*Payment, error)
	ApplyCaptureConfirmed(ctx context.Context, gatewayOrderID, gatewayPaymentID, channel string) (*Payment, error)
	ApplyCaptureFailed(ctx context.Context, gatewayOrderID, channel string) (*Payment, error)
	Approve(ctx context.Context, req AdminDecisionRequest) (*Payment, error)
	Reject(ctx context.Context, req AdminDecisionRequest) (*Payment, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Payment, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByEnrollmentID(ctx context.Context, db *gorm.DB, enrollmentID snowflake.ID) (*Payment, error)
	FindByOrderID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*Payment, error)
	FindByOrderIDForUpdate(ctx context.Context, tx *gorm.DB, gatewayOrderID string) (*Payment, error)
	Update(ctx context.Context, db *gorm.DB, payment *Payment) error
	ListStaleInitiated(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Payment, error)

	InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindWebhookEvent(ctx context.Context, db *gorm.DB, webhookID string) (*WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processingError *string, processedAt time.Time) error
	AttachWebhookPayment(ctx context.Context, db *gorm.DB, id, paymentID snowflake.ID) error
	CountUnprocessedWebhookEvents(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)
}

type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Metadata map[string]string
}

type GatewayOrder struct {
	OrderID  string
	Amount   int64
	Currency string
	Status   string
}

// Gateway order statuses as reported by the fetch endpoint.
const (
	GatewayOrderCreated   = "created"
	GatewayOrderAttempted = "attempted"
	GatewayOrderPaid      = "paid"
)

// GatewayClient is the outbound edge to the payment gateway.
type GatewayClient interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error)
	FetchOrder(ctx context.Context, orderID string) (*GatewayOrder, error)
}

// Notifier delivers reconciliation outcomes. Implementations are
// fire-and-forget: the state change has already committed when these
// run, so failures are logged by the caller and never rolled back.
type Notifier interface {
	PaymentReceived(ctx context.Context, payment *Payment) error
	PaymentFailed(ctx context.Context, payment *Payment) error
	VerificationNeeded(ctx context.Context, payment *Payment) error
	EnrollmentApproved(ctx context.Context, payment *Payment) error
	EnrollmentRejected(ctx context.Context, payment *Payment, reason string) error
}

// AdminAuthorizer answers whether an admin may act on payments of an
// organization.
type AdminAuthorizer interface {
	IsAuthorizedAdmin(ctx context.Context, adminID, orgID snowflake.ID) (bool, error)
}
