package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Payment statuses. The graph only moves forward:
//
//	pending → initiated → paid → verified
//	                    ↘ failed
//	              paid ↘ rejected
//
// Everything else is absorbed as a no-op, not rejected as a conflict,
// so the client-confirmation and webhook channels converge regardless
// of arrival order or retransmission.
const (
	StatusPending   = "pending"
	StatusInitiated = "initiated"
	StatusPaid      = "paid"
	StatusFailed    = "failed"
	StatusVerified  = "verified"
	StatusRejected  = "rejected"
)

// Confirmation channels feeding the state machine.
const (
	ChannelClient  = "client"
	ChannelWebhook = "webhook"
	ChannelSweep   = "sweep"
	ChannelAdmin   = "admin"
)

const (
	EventTypeCaptureConfirmed = "capture_confirmed"
	EventTypeCaptureFailed    = "capture_failed"
)

var (
	ErrPaymentNotFound        = errors.New("payment_not_found")
	ErrAlreadyPaid            = errors.New("payment_already_paid")
	ErrPaymentClosed          = errors.New("payment_closed")
	ErrInvalidSignature       = errors.New("invalid_signature")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrInvalidEnrollment      = errors.New("invalid_enrollment")
	ErrInvalidPayload         = errors.New("invalid_payload")
	ErrInvalidAction          = errors.New("invalid_action")
	ErrUnauthorizedAdmin      = errors.New("unauthorized_admin")
	ErrReconciliationAnomaly  = errors.New("reconciliation_anomaly")
)

type Payment struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID             snowflake.ID  `json:"org_id" gorm:"not null;index"`
	EnrollmentID      snowflake.ID  `json:"enrollment_id" gorm:"not null;uniqueIndex"`
	GatewayOrderID    string        `json:"gateway_order_id" gorm:"type:text;not null;uniqueIndex"`
	GatewayPaymentID  *string       `json:"gateway_payment_id" gorm:"type:text"`
	Signature         *string       `json:"signature" gorm:"type:text"`
	Amount            int64         `json:"amount" gorm:"not null"`
	Currency          string        `json:"currency" gorm:"type:text;not null"`
	Status            string        `json:"status" gorm:"type:text;not null"`
	WebhookReceived   bool          `json:"webhook_received" gorm:"not null"`
	WebhookVerified   bool          `json:"webhook_verified" gorm:"not null"`
	VerifiedBy        *snowflake.ID `json:"verified_by"`
	VerificationNotes string        `json:"verification_notes" gorm:"type:text"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time     `json:"updated_at" gorm:"not null"`
	PaidAt            *time.Time    `json:"paid_at"`
	VerifiedAt        *time.Time    `json:"verified_at"`
}

func (Payment) TableName() string { return "payments" }

var allowedTransitions = map[string][]string{
	StatusPending:   {StatusInitiated},
	StatusInitiated: {StatusPaid, StatusFailed},
	StatusPaid:      {StatusVerified, StatusRejected},
}

func CanTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Settled reports whether a capture confirmation for this payment has
// already been absorbed. A settled payment treats further capture
// events as successful no-ops.
func (p *Payment) Settled() bool {
	switch p.Status {
	case StatusPaid, StatusVerified, StatusRejected:
		return true
	}
	return false
}

// WebhookEvent is the append-only audit record of every inbound
// gateway notification. A row is written before any validation and is
// never mutated after processing completes.
type WebhookEvent struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	WebhookID         string         `json:"webhook_id" gorm:"type:text;not null;uniqueIndex"`
	EventType         string         `json:"event_type" gorm:"type:text;not null"`
	PaymentID         *snowflake.ID  `json:"payment_id" gorm:"index"`
	RawPayload        datatypes.JSON `json:"raw_payload" gorm:"type:jsonb;not null"`
	Signature         string         `json:"signature" gorm:"type:text;not null"`
	SignatureVerified bool           `json:"signature_verified" gorm:"not null"`
	Processed         bool           `json:"processed" gorm:"not null"`
	ProcessingError   *string        `json:"processing_error" gorm:"type:text"`
	CreatedAt         time.Time      `json:"created_at" gorm:"not null"`
	ProcessedAt       *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
