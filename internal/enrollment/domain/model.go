package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Enrollment statuses. An enrollment only moves forward: it is created
// pending, pushed to payment_verification by a confirmed capture, and
// settled by the admin gate. Rows are never deleted.
const (
	StatusPending             = "pending"
	StatusPaymentVerification = "payment_verification"
	StatusActive              = "active"
	StatusRejected            = "rejected"
	StatusCompleted           = "completed"
)

var (
	ErrEnrollmentNotFound = errors.New("enrollment_not_found")
	ErrEnrollmentExists   = errors.New("enrollment_exists")
	ErrInvalidLearner     = errors.New("invalid_learner")
	ErrInvalidCourse      = errors.New("invalid_course")
	ErrInvalidTransition  = errors.New("invalid_enrollment_transition")
)

type Enrollment struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID `json:"org_id" gorm:"not null;index"`
	LearnerID snowflake.ID `json:"learner_id" gorm:"not null;uniqueIndex:idx_enrollments_learner_course"`
	CourseID  snowflake.ID `json:"course_id" gorm:"not null;uniqueIndex:idx_enrollments_learner_course"`
	Status    string       `json:"status" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Enrollment) TableName() string { return "enrollments" }

// ContentAccessible reports whether course content may be served for
// this enrollment. Access is granted only after the admin gate.
func (e *Enrollment) ContentAccessible() bool {
	return e.Status == StatusActive || e.Status == StatusCompleted
}

var allowedTransitions = map[string][]string{
	StatusPending:             {StatusPaymentVerification},
	StatusPaymentVerification: {StatusActive, StatusRejected},
	StatusActive:              {StatusCompleted},
}

// CanTransition reports whether moving from one status to another is
// a forward edge of the lifecycle graph.
func CanTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type EnrollRequest struct {
	OrgID     snowflake.ID `json:"org_id"`
	LearnerID snowflake.ID `json:"learner_id"`
	CourseID  snowflake.ID `json:"course_id"`
}

type Service interface {
	Enroll(ctx context.Context, req EnrollRequest) (*Enrollment, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Enrollment, error)
	ListByLearner(ctx context.Context, learnerID snowflake.ID) ([]Enrollment, error)
	AccessAllowed(ctx context.Context, id snowflake.ID) (bool, error)
	Complete(ctx context.Context, id snowflake.ID) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, enrollment *Enrollment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Enrollment, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Enrollment, error)
	FindByLearnerCourse(ctx context.Context, db *gorm.DB, learnerID, courseID snowflake.ID) (*Enrollment, error)
	ListByLearner(ctx context.Context, db *gorm.DB, learnerID snowflake.ID) ([]Enrollment, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, updatedAt time.Time) error
}
