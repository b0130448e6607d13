package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	enrollmentdomain "github.com/smallbiznis/coursepay/internal/enrollment/domain"
)

type createEnrollmentRequest struct {
	CourseID string `json:"course_id"`
}

func (s *Server) CreateEnrollment(c *gin.Context) {
	var req createEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	courseID, err := snowflake.ParseString(strings.TrimSpace(req.CourseID))
	if err != nil || courseID == 0 {
		AbortWithError(c, newValidationError("course_id", "invalid_course_id", "invalid course id"))
		return
	}

	enrollment, err := s.enrollmentSvc.Enroll(c.Request.Context(), enrollmentdomain.EnrollRequest{
		LearnerID: currentUserID(c),
		CourseID:  courseID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, enrollmentResponse(enrollment))
}

func (s *Server) ListEnrollments(c *gin.Context) {
	enrollments, err := s.enrollmentSvc.ListByLearner(c.Request.Context(), currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(enrollments))
	for i := range enrollments {
		items = append(items, enrollmentResponse(&enrollments[i]))
	}
	c.JSON(http.StatusOK, gin.H{"enrollments": items})
}

func (s *Server) GetEnrollment(c *gin.Context) {
	enrollmentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	enrollment, err := s.enrollmentSvc.GetByID(c.Request.Context(), enrollmentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, enrollmentResponse(enrollment))
}

func (s *Server) GetEnrollmentAccess(c *gin.Context) {
	enrollmentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	allowed, err := s.enrollmentSvc.AccessAllowed(c.Request.Context(), enrollmentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"enrollment_id":      enrollmentID.String(),
		"content_accessible": allowed,
	})
}

func (s *Server) CompleteEnrollment(c *gin.Context) {
	enrollmentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := s.enrollmentSvc.Complete(c.Request.Context(), enrollmentID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func enrollmentResponse(enrollment *enrollmentdomain.Enrollment) gin.H {
	return gin.H{
		"id":         enrollment.ID.String(),
		"learner_id": enrollment.LearnerID.String(),
		"course_id":  enrollment.CourseID.String(),
		"status":     enrollment.Status,
		"created_at": enrollment.CreatedAt.Format(time.RFC3339),
	}
}
