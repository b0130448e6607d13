package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursepay/internal/clock"
	coursedomain "github.com/smallbiznis/coursepay/internal/course/domain"
	"github.com/smallbiznis/coursepay/internal/enrollment/domain"
	pkgdb "github.com/smallbiznis/coursepay/pkg/db"
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
	Repo       domain.Repository
	CourseRepo coursedomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	courseRepo coursedomain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("enrollment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		courseRepo: p.CourseRepo,
	}
}

func (s *Service) Enroll(ctx context.Context, req domain.EnrollRequest) (*domain.Enrollment, error) {
	if req.LearnerID == 0 {
		return nil, domain.ErrInvalidLearner
	}
	if req.CourseID == 0 {
		return nil, domain.ErrInvalidCourse
	}

	course, err := s.courseRepo.FindByID(ctx, s.db, req.CourseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, coursedomain.ErrCourseNotFound
	}

	existing, err := s.repo.FindByLearnerCourse(ctx, s.db, req.LearnerID, req.CourseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrEnrollmentExists
	}

	now := s.clock.Now().UTC()
	enrollment := &domain.Enrollment{
		ID:        s.genID.Generate(),
		OrgID:     course.OrgID,
		LearnerID: req.LearnerID,
		CourseID:  req.CourseID,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, enrollment); err != nil {
		// Unique (learner_id, course_id) closes the race between the
		// existence check and the insert.
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrEnrollmentExists
		}
		return nil, err
	}

	s.log.Info("enrollment created",
		zap.String("enrollment_id", enrollment.ID.String()),
		zap.String("course_id", req.CourseID.String()),
	)
	return enrollment, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, domain.ErrEnrollmentNotFound
	}
	return enrollment, nil
}

func (s *Service) ListByLearner(ctx context.Context, learnerID snowflake.ID) ([]domain.Enrollment, error) {
	if learnerID == 0 {
		return nil, domain.ErrInvalidLearner
	}
	return s.repo.ListByLearner(ctx, s.db, learnerID)
}

func (s *Service) AccessAllowed(ctx context.Context, id snowflake.ID) (bool, error) {
	enrollment, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return enrollment.ContentAccessible(), nil
}

func (s *Service) Complete(ctx context.Context, id snowflake.ID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		enrollment, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if enrollment == nil {
			return domain.ErrEnrollmentNotFound
		}
		if enrollment.Status == domain.StatusCompleted {
			return nil
		}
		if !domain.CanTransition(enrollment.Status, domain.StatusCompleted) {
			return domain.ErrInvalidTransition
		}
		return s.repo.UpdateStatus(ctx, tx, id, domain.StatusCompleted, s.clock.Now().UTC())
	})
}
