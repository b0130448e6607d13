package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursepay/internal/course/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, course *domain.Course) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO courses (id, org_id, title, slug, price_amount, currency, enrolled_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		course.ID,
		course.OrgID,
		course.Title,
		course.Slug,
		course.PriceAmount,
		course.Currency,
		course.EnrolledCount,
		course.CreatedAt,
		course.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Course, error) {
	var item domain.Course
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, title, slug, price_amount, currency, enrolled_count, created_at, updated_at
		 FROM courses
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Course, error) {
	var items []domain.Course
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, title, slug, price_amount, currency, enrolled_count, created_at, updated_at
		 FROM courses
		 WHERE org_id = ?
		 ORDER BY created_at ASC`,
		orgID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) IncrementEnrolledCount(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE courses
		 SET enrolled_count = enrolled_count + 1
		 WHERE id = ?`,
		id,
	).Error
}
