package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursepay/internal/notification/domain"
	"github.com/smallbiznis/coursepay/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, notification *domain.Notification) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO notifications (
			id, recipient_id, recipient_type, notification_type, title, message,
			payment_id, course_title, is_read, created_at, read_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		notification.ID,
		notification.RecipientID,
		notification.RecipientType,
		notification.NotificationType,
		notification.Title,
		notification.Message,
		notification.PaymentID,
		notification.CourseTitle,
		notification.IsRead,
		notification.CreatedAt,
		notification.ReadAt,
	).Error
}

func (r *repo) ListByRecipient(ctx context.Context, db *gorm.DB, recipientID snowflake.ID, page pagination.Pagination) ([]domain.Notification, pagination.PageInfo, error) {
	pageSize := page.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}

	query := `SELECT id, recipient_id, recipient_type, notification_type, title, message,
	                 payment_id, course_title, is_read, created_at, read_at
	          FROM notifications
	          WHERE recipient_id = ?`
	args := []any{recipientID}

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, pagination.PageInfo{}, domain.ErrInvalidPageToken
		}
		cursorAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, pagination.PageInfo{}, domain.ErrInvalidPageToken
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.PageInfo{}, domain.ErrInvalidPageToken
		}
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cursorAt, cursorAt, cursorID)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, pageSize+1)

	var items []domain.Notification
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}

	info := pagination.PageInfo{}
	if len(items) > pageSize {
		items = items[:pageSize]
		last := items[len(items)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		info.HasMore = true
		info.NextPageToken = token
	}
	return items, info, nil
}

func (r *repo) CountUnread(ctx context.Context, db *gorm.DB, recipientID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM notifications
		 WHERE recipient_id = ? AND is_read = ?`,
		recipientID,
		false,
	).Scan(&count).Error
	return count, err
}

func (r *repo) MarkRead(ctx context.Context, db *gorm.DB, id, recipientID snowflake.ID, readAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE notifications
		 SET is_read = ?, read_at = ?
		 WHERE id = ? AND recipient_id = ? AND is_read = ?`,
		true,
		readAt,
		id,
		recipientID,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindUserContact(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.UserContact, error) {
	var contact domain.UserContact
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&contact).Error
	if err != nil {
		return nil, err
	}
	if contact.ID == 0 {
		return nil, nil
	}
	return &contact, nil
}

func (r *repo) ListOrgAdmins(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.UserContact, error) {
	var contacts []domain.UserContact
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email
		 FROM users
		 WHERE org_id = ? AND role = ?`,
		orgID,
		"admin",
	).Scan(&contacts).Error
	if err != nil {
		return nil, err
	}
	return contacts, nil
}
