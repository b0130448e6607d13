package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/coursepay/internal/course/domain"
	"github.com/smallbiznis/coursepay/internal/course/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupCourseService(t *testing.T, node *snowflake.Node) (domain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	require.NoError(t, db.Exec(`CREATE TABLE courses (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		title TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		price_amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		enrolled_count BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
	return svc, db
}

func TestCreateCourse(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupCourseService(t, node)
	ctx := context.Background()

	course, err := svc.Create(ctx, domain.CreateCourseRequest{
		OrgID:       node.Generate(),
		Title:       "Intro to Payments",
		PriceAmount: 49900,
		Currency:    "inr",
	})
	require.NoError(t, err)
	assert.Equal(t, "INR", course.Currency)
	assert.True(t, strings.HasPrefix(course.Slug, "intro-to-payments-"))
	assert.Zero(t, course.EnrolledCount)

	got, err := svc.GetByID(ctx, course.ID)
	require.NoError(t, err)
	assert.Equal(t, course.ID, got.ID)
}

func TestCreateCourseValidation(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupCourseService(t, node)
	ctx := context.Background()
	orgID := node.Generate()

	cases := []struct {
		name string
		req  domain.CreateCourseRequest
		want error
	}{
		{"empty title", domain.CreateCourseRequest{OrgID: orgID, PriceAmount: 100, Currency: "INR"}, domain.ErrInvalidTitle},
		{"zero price", domain.CreateCourseRequest{OrgID: orgID, Title: "X", Currency: "INR"}, domain.ErrInvalidPrice},
		{"negative price", domain.CreateCourseRequest{OrgID: orgID, Title: "X", PriceAmount: -1, Currency: "INR"}, domain.ErrInvalidPrice},
		{"missing currency", domain.CreateCourseRequest{OrgID: orgID, Title: "X", PriceAmount: 100}, domain.ErrInvalidCurrency},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGetCourseNotFound(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupCourseService(t, node)

	_, err := svc.GetByID(context.Background(), node.Generate())
	assert.ErrorIs(t, err, domain.ErrCourseNotFound)
}

func TestListCoursesByOrg(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupCourseService(t, node)
	ctx := context.Background()
	orgID := node.Generate()

	for _, title := range []string{"Course A", "Course B"} {
		_, err := svc.Create(ctx, domain.CreateCourseRequest{
			OrgID: orgID, Title: title, PriceAmount: 1000, Currency: "INR",
		})
		require.NoError(t, err)
	}
	// Another org's catalog stays invisible.
	_, err := svc.Create(ctx, domain.CreateCourseRequest{
		OrgID: node.Generate(), Title: "Course C", PriceAmount: 1000, Currency: "INR",
	})
	require.NoError(t, err)

	courses, err := svc.List(ctx, orgID)
	require.NoError(t, err)
	assert.Len(t, courses, 2)
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
