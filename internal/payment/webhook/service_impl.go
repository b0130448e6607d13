package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursepay/internal/clock"
	"github.com/smallbiznis/coursepay/internal/config"
	"github.com/smallbiznis/coursepay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/coursepay/internal/payment/domain"
	"github.com/smallbiznis/coursepay/internal/payment/signature"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       paymentdomain.Repository
	PaymentSvc paymentdomain.Service
	Metrics    *metrics.Metrics
}

// Service ingests raw gateway webhooks. Every inbound call is written
// to the webhook_events log before any business decision, so the
// audit trail covers malformed and malicious traffic too. Ingest
// never reports processing failures to the caller: the gateway is
// untrusted and error details would only feed retry storms.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	secret     string
	repo       paymentdomain.Repository
	paymentSvc paymentdomain.Service
	metrics    *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		secret:     p.Cfg.Gateway.WebhookSecret,
		repo:       p.Repo,
		paymentSvc: p.PaymentSvc,
		metrics:    p.Metrics,
	}
}

type webhookPayload struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Data      struct {
		OrderID   string `json:"order_id"`
		PaymentID string `json:"payment_id"`
	} `json:"data"`
}

// Ingest persists and, when trustworthy, processes one gateway
// notification. The returned error is infrastructure-only (storage
// failure); callers acknowledge the gateway regardless.
func (s *Service) Ingest(ctx context.Context, rawBody []byte, headerSignature string) error {
	now := s.clock.Now().UTC()

	var payload webhookPayload
	parseErr := json.Unmarshal(rawBody, &payload)

	event := &paymentdomain.WebhookEvent{
		ID:        s.genID.Generate(),
		WebhookID: strings.TrimSpace(payload.ID),
		EventType: strings.TrimSpace(payload.EventType),
		Signature: headerSignature,
		CreatedAt: now,
	}
	if parseErr != nil || event.WebhookID == "" {
		// Unparseable traffic still gets an audit row. A synthetic id
		// keeps the unique index satisfied without colliding with
		// gateway-assigned ids.
		event.WebhookID = "unparsed_" + event.ID.String()
		event.EventType = "unknown"
		reason := paymentdomain.ErrInvalidPayload.Error()
		event.ProcessingError = &reason
	}
	if json.Valid(rawBody) {
		event.RawPayload = rawBody
	} else {
		encoded, _ := json.Marshal(string(rawBody))
		event.RawPayload = encoded
	}
	event.SignatureVerified = signature.Verify(s.secret, rawBody, headerSignature)

	inserted, err := s.repo.InsertWebhookEvent(ctx, s.db, event)
	if err != nil {
		return err
	}
	if !inserted {
		// Gateway retransmission. The first delivery owns processing.
		s.recordEvent(ctx, event.EventType, "duplicate")
		s.log.Debug("duplicate webhook absorbed", zap.String("webhook_id", event.WebhookID))
		return nil
	}

	if event.ProcessingError != nil {
		s.recordEvent(ctx, event.EventType, "invalid_payload")
		s.log.Warn("unparseable webhook stored for audit", zap.String("webhook_id", event.WebhookID))
		return nil
	}

	if !event.SignatureVerified {
		// Acknowledged to stop retries, left unprocessed for audit.
		s.recordEvent(ctx, event.EventType, "invalid_signature")
		s.log.Warn("webhook signature mismatch",
			zap.String("webhook_id", event.WebhookID),
			zap.String("event_type", event.EventType),
		)
		return nil
	}

	s.process(ctx, event, &payload)
	return nil
}

func (s *Service) process(ctx context.Context, event *paymentdomain.WebhookEvent, payload *webhookPayload) {
	var (
		payment *paymentdomain.Payment
		err     error
	)

	switch event.EventType {
	case paymentdomain.EventTypeCaptureConfirmed:
		payment, err = s.paymentSvc.ApplyCaptureConfirmed(ctx, payload.Data.OrderID, payload.Data.PaymentID, paymentdomain.ChannelWebhook)
	case paymentdomain.EventTypeCaptureFailed:
		payment, err = s.paymentSvc.ApplyCaptureFailed(ctx, payload.Data.OrderID, paymentdomain.ChannelWebhook)
	default:
		err = paymentdomain.ErrInvalidAction
	}

	if payment != nil {
		if aerr := s.repo.AttachWebhookPayment(ctx, s.db, event.ID, payment.ID); aerr != nil {
			s.log.Warn("could not attach payment to webhook event", zap.Error(aerr))
		}
	}

	var processingError *string
	outcome := "processed"
	if err != nil {
		msg := err.Error()
		processingError = &msg
		outcome = "error"
		if errors.Is(err, paymentdomain.ErrReconciliationAnomaly) {
			outcome = "anomaly"
		}
		s.log.Warn("webhook processing finished with error",
			zap.String("webhook_id", event.WebhookID),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}

	if merr := s.repo.MarkWebhookProcessed(ctx, s.db, event.ID, processingError, s.clock.Now().UTC()); merr != nil {
		s.log.Error("could not mark webhook processed", zap.Error(merr))
		return
	}
	s.recordEvent(ctx, event.EventType, outcome)
}

func (s *Service) recordEvent(ctx context.Context, eventType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordWebhookEvent(ctx, eventType, outcome)
}
