package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Course is the sellable catalog entry. Content itself lives elsewhere; the
// engine only needs pricing and the enrollment counter.
type Course struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID         snowflake.ID `json:"org_id" gorm:"not null;index"`
	Title         string       `json:"title" gorm:"type:text;not null"`
	Slug          string       `json:"slug" gorm:"type:text;not null;uniqueIndex"`
	PriceAmount   int64        `json:"price_amount" gorm:"not null"`
	Currency      string       `json:"currency" gorm:"type:text;not null"`
	EnrolledCount int64        `json:"enrolled_count" gorm:"not null;default:0"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"not null"`
}

func (Course) TableName() string { return "courses" }

var (
	ErrCourseNotFound = errors.New("course_not_found")
	ErrInvalidTitle   = errors.New("invalid_title")
	ErrInvalidPrice   = errors.New("invalid_price")
	ErrInvalidCurrency = errors.New("invalid_currency")
)

type CreateCourseRequest struct {
	OrgID       snowflake.ID `json:"org_id"`
	Title       string       `json:"title"`
	PriceAmount int64        `json:"price_amount"`
	Currency    string       `json:"currency"`
}

type Service interface {
	Create(ctx context.Context, req CreateCourseRequest) (Course, error)
	GetByID(ctx context.Context, id snowflake.ID) (Course, error)
	List(ctx context.Context, orgID snowflake.ID) ([]Course, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, course *Course) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Course, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Course, error)
	IncrementEnrolledCount(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
