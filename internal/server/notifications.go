package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	notificationdomain "github.com/smallbiznis/coursepay/internal/notification/domain"
	"github.com/smallbiznis/coursepay/pkg/db/pagination"
)

func (s *Server) ListNotifications(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	notifications, info, err := s.notificationSvc.ListByRecipient(c.Request.Context(), currentUserID(c), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(notifications))
	for i := range notifications {
		items = append(items, notificationResponse(&notifications[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": items,
		"page_info":     info,
	})
}

func (s *Server) GetUnreadNotificationCount(c *gin.Context) {
	count, err := s.notificationSvc.CountUnread(c.Request.Context(), currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (s *Server) MarkNotificationRead(c *gin.Context) {
	notificationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := s.notificationSvc.MarkRead(c.Request.Context(), notificationID, currentUserID(c)); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func notificationResponse(notification *notificationdomain.Notification) gin.H {
	resp := gin.H{
		"id":                notification.ID.String(),
		"notification_type": notification.NotificationType,
		"title":             notification.Title,
		"message":           notification.Message,
		"course_title":      notification.CourseTitle,
		"is_read":           notification.IsRead,
		"created_at":        notification.CreatedAt.Format(time.RFC3339),
	}
	if notification.PaymentID != nil {
		resp["payment_id"] = notification.PaymentID.String()
	}
	if notification.ReadAt != nil {
		resp["read_at"] = notification.ReadAt.Format(time.RFC3339)
	}
	return resp
}
