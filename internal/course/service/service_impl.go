package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	coursedomain "github.com/smallbiznis/coursepay/internal/course/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  coursedomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  coursedomain.Repository
}

func NewService(p Params) coursedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("course.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req coursedomain.CreateCourseRequest) (coursedomain.Course, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return coursedomain.Course{}, coursedomain.ErrInvalidTitle
	}
	if req.PriceAmount <= 0 {
		return coursedomain.Course{}, coursedomain.ErrInvalidPrice
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return coursedomain.Course{}, coursedomain.ErrInvalidCurrency
	}

	now := time.Now().UTC()
	id := s.genID.Generate()
	course := coursedomain.Course{
		ID:          id,
		OrgID:       req.OrgID,
		Title:       title,
		Slug:        slug.Make(title) + "-" + id.String(),
		PriceAmount: req.PriceAmount,
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, s.db, &course); err != nil {
		return coursedomain.Course{}, err
	}
	return course, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (coursedomain.Course, error) {
	course, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return coursedomain.Course{}, err
	}
	if course == nil {
		return coursedomain.Course{}, coursedomain.ErrCourseNotFound
	}
	return *course, nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID) ([]coursedomain.Course, error) {
	return s.repo.List(ctx, s.db, orgID)
}
