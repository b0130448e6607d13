package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	coursedomain "github.com/smallbiznis/coursepay/internal/course/domain"
)

type createCourseRequest struct {
	OrgID       string `json:"org_id"`
	Title       string `json:"title"`
	PriceAmount int64  `json:"price_amount"`
	Currency    string `json:"currency"`
}

func (s *Server) CreateCourse(c *gin.Context) {
	var req createCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrgID))
	if err != nil || orgID == 0 {
		AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org id"))
		return
	}

	course, err := s.courseSvc.Create(c.Request.Context(), coursedomain.CreateCourseRequest{
		OrgID:       orgID,
		Title:       req.Title,
		PriceAmount: req.PriceAmount,
		Currency:    req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, courseResponse(course))
}

func (s *Server) ListCourses(c *gin.Context) {
	var orgID snowflake.ID
	if raw := strings.TrimSpace(c.Query("org_id")); raw != "" {
		parsed, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org id"))
			return
		}
		orgID = parsed
	}

	courses, err := s.courseSvc.List(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(courses))
	for _, course := range courses {
		items = append(items, courseResponse(course))
	}
	c.JSON(http.StatusOK, gin.H{"courses": items})
}

func (s *Server) GetCourse(c *gin.Context) {
	courseID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	course, err := s.courseSvc.GetByID(c.Request.Context(), courseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, courseResponse(course))
}

func courseResponse(course coursedomain.Course) gin.H {
	return gin.H{
		"id":             course.ID.String(),
		"org_id":         course.OrgID.String(),
		"title":          course.Title,
		"slug":           course.Slug,
		"price_amount":   course.PriceAmount,
		"currency":       course.Currency,
		"enrolled_count": course.EnrolledCount,
	}
}
