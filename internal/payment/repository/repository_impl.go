package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursepay/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, org_id, enrollment_id, gateway_order_id, gateway_payment_id,
	        signature, amount, currency, status, webhook_received, webhook_verified,
	        verified_by, verification_notes, created_at, updated_at, paid_at, verified_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, org_id, enrollment_id, gateway_order_id, gateway_payment_id,
			signature, amount, currency, status, webhook_received, webhook_verified,
			verified_by, verification_notes, created_at, updated_at, paid_at, verified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.OrgID,
		payment.EnrollmentID,
		payment.GatewayOrderID,
		payment.GatewayPaymentID,
		payment.Signature,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.WebhookReceived,
		payment.WebhookVerified,
		payment.VerifiedBy,
		payment.VerificationNotes,
		payment.CreatedAt,
		payment.UpdatedAt,
		payment.PaidAt,
		payment.VerifiedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
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

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		 FROM payments
		 WHERE id = ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var item domain.Payment
	err := tx.WithContext(ctx).Raw(query, id).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByEnrollmentID(ctx context.Context, db *gorm.DB, enrollmentID snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE enrollment_id = ?
		 LIMIT 1`,
		enrollmentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE gateway_order_id = ?
		 LIMIT 1`,
		gatewayOrderID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByOrderIDForUpdate(ctx context.Context, tx *gorm.DB, gatewayOrderID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		 FROM payments
		 WHERE gateway_order_id = ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var item domain.Payment
	err := tx.WithContext(ctx).Raw(query, gatewayOrderID).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET gateway_payment_id = ?, signature = ?, status = ?,
		     webhook_received = ?, webhook_verified = ?,
		     verified_by = ?, verification_notes = ?,
		     updated_at = ?, paid_at = ?, verified_at = ?
		 WHERE id = ?`,
		payment.GatewayPaymentID,
		payment.Signature,
		payment.Status,
		payment.WebhookReceived,
		payment.WebhookVerified,
		payment.VerifiedBy,
		payment.VerificationNotes,
		payment.UpdatedAt,
		payment.PaidAt,
		payment.VerifiedAt,
		payment.ID,
	).Error
}

func (r *repo) ListStaleInitiated(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.StatusInitiated,
		before,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, webhook_id, event_type, payment_id, raw_payload,
			signature, signature_verified, processed, processing_error,
			created_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (webhook_id) DO NOTHING`,
		event.ID,
		event.WebhookID,
		event.EventType,
		event.PaymentID,
		event.RawPayload,
		event.Signature,
		event.SignatureVerified,
		event.Processed,
		event.ProcessingError,
		event.CreatedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindWebhookEvent(ctx context.Context, db *gorm.DB, webhookID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, webhook_id, event_type, payment_id, raw_payload,
		        signature, signature_verified, processed, processing_error,
		        created_at, processed_at
		 FROM webhook_events
		 WHERE webhook_id = ?
		 LIMIT 1`,
		webhookID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processingError *string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed = ?, processing_error = ?, processed_at = ?
		 WHERE id = ? AND processed = ?`,
		true,
		processingError,
		processedAt,
		id,
		false,
	).Error
}

func (r *repo) AttachWebhookPayment(ctx context.Context, db *gorm.DB, id, paymentID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET payment_id = ?
		 WHERE id = ? AND processed = ?`,
		paymentID,
		id,
		false,
	).Error
}

func (r *repo) CountUnprocessedWebhookEvents(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM webhook_events
		 WHERE processed = ? AND created_at < ?`,
		false,
		before,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
