package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursepay/internal/enrollment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, enrollment *domain.Enrollment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO enrollments (
			id, org_id, learner_id, course_id, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		enrollment.ID,
		enrollment.OrgID,
		enrollment.LearnerID,
		enrollment.CourseID,
		enrollment.Status,
		enrollment.CreatedAt,
		enrollment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Enrollment, error) {
	var item domain.Enrollment
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, learner_id, course_id, status, created_at, updated_at
		 FROM enrollments
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

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Enrollment, error) {
	query := `SELECT id, org_id, learner_id, course_id, status, created_at, updated_at
		 FROM enrollments
		 WHERE id = ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var item domain.Enrollment
	err := tx.WithContext(ctx).Raw(query, id).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByLearnerCourse(ctx context.Context, db *gorm.DB, learnerID, courseID snowflake.ID) (*domain.Enrollment, error) {
	var item domain.Enrollment
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, learner_id, course_id, status, created_at, updated_at
		 FROM enrollments
		 WHERE learner_id = ? AND course_id = ?
		 LIMIT 1`,
		learnerID,
		courseID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByLearner(ctx context.Context, db *gorm.DB, learnerID snowflake.ID) ([]domain.Enrollment, error) {
	var items []domain.Enrollment
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, learner_id, course_id, status, created_at, updated_at
		 FROM enrollments
		 WHERE learner_id = ?
		 ORDER BY created_at DESC`,
		learnerID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE enrollments
		 SET status = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		updatedAt,
		id,
	).Error
}
