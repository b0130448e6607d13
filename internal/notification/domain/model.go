package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursepay/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	RecipientTypeLearner = "learner"
	RecipientTypeAdmin   = "admin"
)

const (
	TypePaymentReceived    = "payment_received"
	TypePaymentFailed      = "payment_failed"
	TypeVerificationNeeded = "verification_needed"
	TypeEnrollmentApproved = "enrollment_approved"
	TypeEnrollmentRejected = "enrollment_rejected"
)

var (
	ErrNotificationNotFound = errors.New("notification_not_found")
	ErrInvalidRecipient     = errors.New("invalid_recipient")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
)

type Notification struct {
	ID               snowflake.ID  `json:"id" gorm:"primaryKey"`
	RecipientID      snowflake.ID  `json:"recipient_id" gorm:"not null;index"`
	RecipientType    string        `json:"recipient_type" gorm:"type:text;not null"`
	NotificationType string        `json:"notification_type" gorm:"type:text;not null"`
	Title            string        `json:"title" gorm:"type:text;not null"`
	Message          string        `json:"message" gorm:"type:text;not null"`
	PaymentID        *snowflake.ID `json:"payment_id" gorm:"index"`
	CourseTitle      string        `json:"course_title" gorm:"type:text"`
	IsRead           bool          `json:"is_read" gorm:"not null"`
	CreatedAt        time.Time     `json:"created_at" gorm:"not null"`
	ReadAt           *time.Time    `json:"read_at"`
}

func (Notification) TableName() string { return "notifications" }

// UserContact is the slice of the users table notifications care
// about.
type UserContact struct {
	ID    snowflake.ID
	Name  string
	Email string
}

type Service interface {
	ListByRecipient(ctx context.Context, recipientID snowflake.ID, page pagination.Pagination) ([]Notification, pagination.PageInfo, error)
	CountUnread(ctx context.Context, recipientID snowflake.ID) (int64, error)
	MarkRead(ctx context.Context, id, recipientID snowflake.ID) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, notification *Notification) error
	ListByRecipient(ctx context.Context, db *gorm.DB, recipientID snowflake.ID, page pagination.Pagination) ([]Notification, pagination.PageInfo, error)
	CountUnread(ctx context.Context, db *gorm.DB, recipientID snowflake.ID) (int64, error)
	MarkRead(ctx context.Context, db *gorm.DB, id, recipientID snowflake.ID, readAt time.Time) (bool, error)
	FindUserContact(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UserContact, error)
	ListOrgAdmins(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]UserContact, error)
}
