package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/coursepay/internal/clock"
	"github.com/smallbiznis/coursepay/internal/config"
	coursedomain "github.com/smallbiznis/coursepay/internal/course/domain"
	enrollmentdomain "github.com/smallbiznis/coursepay/internal/enrollment/domain"
	"github.com/smallbiznis/coursepay/internal/observability/metrics"
	"github.com/smallbiznis/coursepay/internal/payment/domain"
	"github.com/smallbiznis/coursepay/internal/payment/signature"
	pkgdb "github.com/smallbiznis/coursepay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Cfg            config.Config
	Repo           domain.Repository
	EnrollmentRepo enrollmentdomain.Repository
	CourseRepo     coursedomain.Repository
	Gateway        domain.GatewayClient
	Notifier       domain.Notifier
	Authorizer     domain.AdminAuthorizer
	Metrics        *metrics.Metrics
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	cfg            config.Config
	repo           domain.Repository
	enrollmentRepo enrollmentdomain.Repository
	courseRepo     coursedomain.Repository
	gateway        domain.GatewayClient
	notifier       domain.Notifier
	authorizer     domain.AdminAuthorizer
	metrics        *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("payment.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		cfg:            p.Cfg,
		repo:           p.Repo,
		enrollmentRepo: p.EnrollmentRepo,
		courseRepo:     p.CourseRepo,
		gateway:        p.Gateway,
		notifier:       p.Notifier,
		authorizer:     p.Authorizer,
		metrics:        p.Metrics,
	}
}

func (s *Service) InitiateOrder(ctx context.Context, enrollmentID snowflake.ID) (*domain.OrderDetails, error) {
	if enrollmentID == 0 {
		return nil, domain.ErrInvalidEnrollment
	}

	enrollment, err := s.enrollmentRepo.FindByID(ctx, s.db, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, enrollmentdomain.ErrEnrollmentNotFound
	}

	existing, err := s.repo.FindByEnrollmentID(ctx, s.db, enrollmentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.reuseOrder(existing)
	}

	course, err := s.courseRepo.FindByID(ctx, s.db, enrollment.CourseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, coursedomain.ErrCourseNotFound
	}

	order, err := s.gateway.CreateOrder(ctx, domain.CreateOrderRequest{
		Amount:   course.PriceAmount,
		Currency: course.Currency,
		Receipt:  uuid.NewString(),
		Metadata: map[string]string{
			"enrollment_id": enrollment.ID.String(),
			"course_id":     course.ID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	payment := &domain.Payment{
		ID:             s.genID.Generate(),
		OrgID:          enrollment.OrgID,
		EnrollmentID:   enrollment.ID,
		GatewayOrderID: order.OrderID,
		Amount:         course.PriceAmount,
		Currency:       course.Currency,
		Status:         domain.StatusInitiated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		// A concurrent checkout won the unique enrollment_id index.
		// Its order is the one to hand back.
		if pkgdb.IsDuplicateKeyErr(err) {
			winner, ferr := s.repo.FindByEnrollmentID(ctx, s.db, enrollmentID)
			if ferr != nil {
				return nil, ferr
			}
			if winner != nil {
				return s.reuseOrder(winner)
			}
		}
		return nil, err
	}

	s.recordTransition(ctx, domain.StatusPending, domain.StatusInitiated, domain.ChannelClient)
	s.log.Info("payment order initiated",
		zap.String("payment_id", payment.ID.String()),
		zap.String("gateway_order_id", payment.GatewayOrderID),
		zap.Int64("amount", payment.Amount),
	)

	return &domain.OrderDetails{
		PaymentID: payment.ID,
		OrderID:   payment.GatewayOrderID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
	}, nil
}

func (s *Service) reuseOrder(payment *domain.Payment) (*domain.OrderDetails, error) {
	switch payment.Status {
	case domain.StatusPending, domain.StatusInitiated:
		return &domain.OrderDetails{
			PaymentID: payment.ID,
			OrderID:   payment.GatewayOrderID,
			Amount:    payment.Amount,
			Currency:  payment.Currency,
		}, nil
	case domain.StatusPaid, domain.StatusVerified:
		return nil, domain.ErrAlreadyPaid
	default:
		return nil, domain.ErrPaymentClosed
	}
}

func (s *Service) VerifyClientCapture(ctx context.Context, req domain.ClientCaptureRequest) (*domain.Payment, error) {
	orderID := strings.TrimSpace(req.OrderID)
	gatewayPaymentID := strings.TrimSpace(req.GatewayPaymentID)
	if orderID == "" || gatewayPaymentID == "" {
		return nil, domain.ErrInvalidPayload
	}

	payload := signature.OrderPayload(orderID, gatewayPaymentID)
	if !signature.Verify(s.cfg.Gateway.KeySecret, payload, req.Signature) {
		// A bad signature on the synchronous path fails the payment
		// (if it is still open) and is reported to the caller.
		if _, err := s.ApplyCaptureFailed(ctx, orderID, domain.ChannelClient); err != nil {
			s.log.Warn("could not record signature failure",
				zap.String("gateway_order_id", orderID), zap.Error(err))
		}
		return nil, domain.ErrInvalidSignature
	}

	sig := req.Signature
	return s.applyCapture(ctx, orderID, gatewayPaymentID, domain.ChannelClient, &sig)
}

func (s *Service) ApplyCaptureConfirmed(ctx context.Context, gatewayOrderID, gatewayPaymentID, channel string) (*domain.Payment, error) {
	return s.applyCapture(ctx, gatewayOrderID, gatewayPaymentID, channel, nil)
}

// applyCapture is the single entry point through which any channel
// pushes a payment to paid. The row lock plus the settled check makes
// it safe under arbitrary interleaving of the client and webhook
// paths: exactly one caller performs the transition, everyone else
// absorbs it as a no-op.
func (s *Service) applyCapture(ctx context.Context, gatewayOrderID, gatewayPaymentID, channel string, sig *string) (*domain.Payment, error) {
	var (
		result     *domain.Payment
		transition bool
		anomaly    bool
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByOrderIDForUpdate(ctx, tx, gatewayOrderID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}

		switch {
		case payment.Settled():
			result = payment
			return nil
		case payment.Status == domain.StatusInitiated:
			now := s.clock.Now().UTC()
			payment.GatewayPaymentID = &gatewayPaymentID
			if sig != nil {
				payment.Signature = sig
			}
			if channel == domain.ChannelWebhook {
				payment.WebhookReceived = true
				payment.WebhookVerified = true
			}
			payment.Status = domain.StatusPaid
			payment.PaidAt = &now
			payment.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, payment); err != nil {
				return err
			}

			enrollment, err := s.enrollmentRepo.FindByIDForUpdate(ctx, tx, payment.EnrollmentID)
			if err != nil {
				return err
			}
			if enrollment == nil {
				return domain.ErrInvalidEnrollment
			}
			if enrollment.Status == enrollmentdomain.StatusPending {
				if err := s.enrollmentRepo.UpdateStatus(ctx, tx, enrollment.ID, enrollmentdomain.StatusPaymentVerification, now); err != nil {
					return err
				}
			}

			transition = true
			result = payment
			return nil
		default:
			// pending or failed: a capture confirmation here is a
			// late or inconsistent event. Record it, never revive
			// the payment.
			anomaly = true
			result = payment
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	if anomaly {
		s.log.Warn("reconciliation anomaly: capture confirmed for unexpected status",
			zap.String("payment_id", result.ID.String()),
			zap.String("status", result.Status),
			zap.String("channel", channel),
		)
		s.recordAnomaly(ctx, result.Status, channel)
		return result, domain.ErrReconciliationAnomaly
	}

	if transition {
		s.recordTransition(ctx, domain.StatusInitiated, domain.StatusPaid, channel)
		s.log.Info("payment captured",
			zap.String("payment_id", result.ID.String()),
			zap.String("channel", channel),
		)
		if err := s.notifier.PaymentReceived(ctx, result); err != nil {
			s.log.Warn("payment received notification failed", zap.Error(err))
		}
		if err := s.notifier.VerificationNeeded(ctx, result); err != nil {
			s.log.Warn("verification needed notification failed", zap.Error(err))
		}
	}

	return result, nil
}

func (s *Service) ApplyCaptureFailed(ctx context.Context, gatewayOrderID, channel string) (*domain.Payment, error) {
	var (
		result     *domain.Payment
		transition bool
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByOrderIDForUpdate(ctx, tx, gatewayOrderID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.Status != domain.StatusInitiated {
			result = payment
			return nil
		}

		now := s.clock.Now().UTC()
		payment.Status = domain.StatusFailed
		payment.UpdatedAt = now
		if channel == domain.ChannelWebhook {
			payment.WebhookReceived = true
		}
		if err := s.repo.Update(ctx, tx, payment); err != nil {
			return err
		}

		transition = true
		result = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	if transition {
		s.recordTransition(ctx, domain.StatusInitiated, domain.StatusFailed, channel)
		s.log.Info("payment failed",
			zap.String("payment_id", result.ID.String()),
			zap.String("channel", channel),
		)
		if err := s.notifier.PaymentFailed(ctx, result); err != nil {
			s.log.Warn("payment failed notification failed", zap.Error(err))
		}
	}

	return result, nil
}

func (s *Service) Approve(ctx context.Context, req domain.AdminDecisionRequest) (*domain.Payment, error) {
	payment, err := s.authorizeDecision(ctx, req)
	if err != nil {
		return nil, err
	}

	var result *domain.Payment
	err = s.db.Transaction(func(tx *gorm.DB) error {
		payment, err = s.repo.FindByIDForUpdate(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.Status != domain.StatusPaid {
			return domain.ErrInvalidStateTransition
		}

		now := s.clock.Now().UTC()
		admin := req.AdminID
		payment.Status = domain.StatusVerified
		payment.VerifiedBy = &admin
		payment.VerificationNotes = req.Notes
		payment.VerifiedAt = &now
		payment.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, payment); err != nil {
			return err
		}

		enrollment, err := s.enrollmentRepo.FindByIDForUpdate(ctx, tx, payment.EnrollmentID)
		if err != nil {
			return err
		}
		if enrollment == nil {
			return domain.ErrInvalidEnrollment
		}
		if err := s.enrollmentRepo.UpdateStatus(ctx, tx, enrollment.ID, enrollmentdomain.StatusActive, now); err != nil {
			return err
		}
		// Incrementing inside the same transaction as the paid→verified
		// transition is what makes the counter exactly-once: a retry
		// finds the payment no longer paid and never reaches here.
		if err := s.courseRepo.IncrementEnrolledCount(ctx, tx, enrollment.CourseID); err != nil {
			return err
		}

		result = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, domain.StatusPaid, domain.StatusVerified, domain.ChannelAdmin)
	s.log.Info("payment verified by admin",
		zap.String("payment_id", result.ID.String()),
		zap.String("admin_id", req.AdminID.String()),
	)
	if err := s.notifier.EnrollmentApproved(ctx, result); err != nil {
		s.log.Warn("enrollment approved notification failed", zap.Error(err))
	}

	return result, nil
}

func (s *Service) Reject(ctx context.Context, req domain.AdminDecisionRequest) (*domain.Payment, error) {
	payment, err := s.authorizeDecision(ctx, req)
	if err != nil {
		return nil, err
	}

	var result *domain.Payment
	err = s.db.Transaction(func(tx *gorm.DB) error {
		payment, err = s.repo.FindByIDForUpdate(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.Status != domain.StatusPaid {
			return domain.ErrInvalidStateTransition
		}

		now := s.clock.Now().UTC()
		admin := req.AdminID
		payment.Status = domain.StatusRejected
		payment.VerifiedBy = &admin
		payment.VerificationNotes = req.Notes
		payment.VerifiedAt = &now
		payment.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, payment); err != nil {
			return err
		}

		enrollment, err := s.enrollmentRepo.FindByIDForUpdate(ctx, tx, payment.EnrollmentID)
		if err != nil {
			return err
		}
		if enrollment == nil {
			return domain.ErrInvalidEnrollment
		}
		if err := s.enrollmentRepo.UpdateStatus(ctx, tx, enrollment.ID, enrollmentdomain.StatusRejected, now); err != nil {
			return err
		}

		result = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, domain.StatusPaid, domain.StatusRejected, domain.ChannelAdmin)
	s.log.Info("payment rejected by admin",
		zap.String("payment_id", result.ID.String()),
		zap.String("admin_id", req.AdminID.String()),
	)
	if err := s.notifier.EnrollmentRejected(ctx, result, req.Notes); err != nil {
		s.log.Warn("enrollment rejected notification failed", zap.Error(err))
	}

	return result, nil
}

func (s *Service) authorizeDecision(ctx context.Context, req domain.AdminDecisionRequest) (*domain.Payment, error) {
	if req.PaymentID == 0 || req.AdminID == 0 {
		return nil, domain.ErrInvalidPayload
	}

	payment, err := s.repo.FindByID(ctx, s.db, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}

	ok, err := s.authorizer.IsAuthorizedAdmin(ctx, req.AdminID, payment.OrgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrUnauthorizedAdmin
	}
	return payment, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) recordTransition(ctx context.Context, from, to, channel string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordTransition(ctx, from, to, channel)
}

func (s *Service) recordAnomaly(ctx context.Context, status, channel string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordAnomaly(ctx, status, channel)
}
