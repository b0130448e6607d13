package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursepay/internal/clock"
	coursedomain "github.com/smallbiznis/coursepay/internal/course/domain"
	enrollmentdomain "github.com/smallbiznis/coursepay/internal/enrollment/domain"
	"github.com/smallbiznis/coursepay/internal/notification/domain"
	"github.com/smallbiznis/coursepay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/coursepay/internal/payment/domain"
	"github.com/smallbiznis/coursepay/internal/providers/email"
	"github.com/smallbiznis/coursepay/pkg/db/pagination"
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
	Repo           domain.Repository
	EnrollmentRepo enrollmentdomain.Repository
	CourseRepo     coursedomain.Repository
	Email          email.Provider
	Metrics        *metrics.Metrics
}

// Service records reconciliation outcomes as notification rows and
// mirrors them to email best-effort. It runs after the state change
// has committed, so nothing here may fail the payment flow: errors
// are returned for the caller to log and that is all.
type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	enrollmentRepo enrollmentdomain.Repository
	courseRepo     coursedomain.Repository
	email          email.Provider
	metrics        *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("notification.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		enrollmentRepo: p.EnrollmentRepo,
		courseRepo:     p.CourseRepo,
		email:          p.Email,
		metrics:        p.Metrics,
	}
}

func (s *Service) ListByRecipient(ctx context.Context, recipientID snowflake.ID, page pagination.Pagination) ([]domain.Notification, pagination.PageInfo, error) {
	if recipientID == 0 {
		return nil, pagination.PageInfo{}, domain.ErrInvalidRecipient
	}
	return s.repo.ListByRecipient(ctx, s.db, recipientID, page)
}

func (s *Service) CountUnread(ctx context.Context, recipientID snowflake.ID) (int64, error) {
	if recipientID == 0 {
		return 0, domain.ErrInvalidRecipient
	}
	return s.repo.CountUnread(ctx, s.db, recipientID)
}

func (s *Service) MarkRead(ctx context.Context, id, recipientID snowflake.ID) error {
	updated, err := s.repo.MarkRead(ctx, s.db, id, recipientID, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// paymentContext is the denormalized view a notification about a
// payment needs.
type paymentContext struct {
	enrollment *enrollmentdomain.Enrollment
	course     *coursedomain.Course
	learner    *domain.UserContact
}

func (s *Service) loadPaymentContext(ctx context.Context, payment *paymentdomain.Payment) (*paymentContext, error) {
	enrollment, err := s.enrollmentRepo.FindByID(ctx, s.db, payment.EnrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, enrollmentdomain.ErrEnrollmentNotFound
	}

	course, err := s.courseRepo.FindByID(ctx, s.db, enrollment.CourseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, coursedomain.ErrCourseNotFound
	}

	learner, err := s.repo.FindUserContact(ctx, s.db, enrollment.LearnerID)
	if err != nil {
		return nil, err
	}

	return &paymentContext{enrollment: enrollment, course: course, learner: learner}, nil
}

func (s *Service) PaymentReceived(ctx context.Context, payment *paymentdomain.Payment) error {
	pc, err := s.loadPaymentContext(ctx, payment)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("Your payment of %s %d.%02d for %q was received and is awaiting verification.",
		payment.Currency, payment.Amount/100, payment.Amount%100, pc.course.Title)
	return s.deliver(ctx, pc.enrollment.LearnerID, domain.RecipientTypeLearner, pc.learner,
		domain.TypePaymentReceived, "Payment received", message, payment, pc.course.Title)
}

func (s *Service) PaymentFailed(ctx context.Context, payment *paymentdomain.Payment) error {
	pc, err := s.loadPaymentContext(ctx, payment)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("Your payment for %q could not be confirmed. Please retry the checkout.", pc.course.Title)
	return s.deliver(ctx, pc.enrollment.LearnerID, domain.RecipientTypeLearner, pc.learner,
		domain.TypePaymentFailed, "Payment failed", message, payment, pc.course.Title)
}

func (s *Service) VerificationNeeded(ctx context.Context, payment *paymentdomain.Payment) error {
	pc, err := s.loadPaymentContext(ctx, payment)
	if err != nil {
		return err
	}

	admins, err := s.repo.ListOrgAdmins(ctx, s.db, payment.OrgID)
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		s.log.Warn("no admins to notify for payment verification",
			zap.String("payment_id", payment.ID.String()),
			zap.String("org_id", payment.OrgID.String()),
		)
		return nil
	}

	message := fmt.Sprintf("A payment for %q is awaiting manual verification.", pc.course.Title)
	for _, admin := range admins {
		contact := admin
		if err := s.deliver(ctx, admin.ID, domain.RecipientTypeAdmin, &contact,
			domain.TypeVerificationNeeded, "Payment verification needed", message, payment, pc.course.Title); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) EnrollmentApproved(ctx context.Context, payment *paymentdomain.Payment) error {
	pc, err := s.loadPaymentContext(ctx, payment)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("Your enrollment in %q has been approved. Course content is now available.", pc.course.Title)
	return s.deliver(ctx, pc.enrollment.LearnerID, domain.RecipientTypeLearner, pc.learner,
		domain.TypeEnrollmentApproved, "Enrollment approved", message, payment, pc.course.Title)
}

func (s *Service) EnrollmentRejected(ctx context.Context, payment *paymentdomain.Payment, reason string) error {
	pc, err := s.loadPaymentContext(ctx, payment)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("Your enrollment in %q was rejected.", pc.course.Title)
	if reason != "" {
		message += " Reason: " + reason
	}
	return s.deliver(ctx, pc.enrollment.LearnerID, domain.RecipientTypeLearner, pc.learner,
		domain.TypeEnrollmentRejected, "Enrollment rejected", message, payment, pc.course.Title)
}

func (s *Service) deliver(
	ctx context.Context,
	recipientID snowflake.ID,
	recipientType string,
	contact *domain.UserContact,
	notificationType, title, message string,
	payment *paymentdomain.Payment,
	courseTitle string,
) error {
	paymentID := payment.ID
	notification := &domain.Notification{
		ID:               s.genID.Generate(),
		RecipientID:      recipientID,
		RecipientType:    recipientType,
		NotificationType: notificationType,
		Title:            title,
		Message:          message,
		PaymentID:        &paymentID,
		CourseTitle:      courseTitle,
		CreatedAt:        s.clock.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, notification); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordNotification(ctx, notificationType)
	}

	if contact != nil && contact.Email != "" {
		body := fmt.Sprintf("<p>Hi %s,</p><p>%s</p>", contact.Name, message)
		if err := s.email.Send(ctx, []string{contact.Email}, title, body); err != nil {
			// The durable row is the source of truth. Email is a
			// best-effort mirror.
			s.log.Warn("notification email failed",
				zap.String("notification_type", notificationType),
				zap.Error(err),
			)
		}
	}
	return nil
}
