package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/coursepay/internal/authorization"
	"github.com/smallbiznis/coursepay/internal/config"
	"github.com/smallbiznis/coursepay/internal/course"
	coursedomain "github.com/smallbiznis/coursepay/internal/course/domain"
	"github.com/smallbiznis/coursepay/internal/enrollment"
	enrollmentdomain "github.com/smallbiznis/coursepay/internal/enrollment/domain"
	"github.com/smallbiznis/coursepay/internal/notification"
	notificationdomain "github.com/smallbiznis/coursepay/internal/notification/domain"
	"github.com/smallbiznis/coursepay/internal/observability"
	obsmiddleware "github.com/smallbiznis/coursepay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/coursepay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/coursepay/internal/observability/tracing"
	"github.com/smallbiznis/coursepay/internal/payment"
	paymentdomain "github.com/smallbiznis/coursepay/internal/payment/domain"
	"github.com/smallbiznis/coursepay/internal/payment/sweep"
	paymentwebhook "github.com/smallbiznis/coursepay/internal/payment/webhook"
	"github.com/smallbiznis/coursepay/internal/providers"
	"github.com/smallbiznis/coursepay/internal/providers/pdf"
	"github.com/smallbiznis/coursepay/internal/ratelimit"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	providers.Module,
	course.Module,
	enrollment.Module,
	payment.Module,
	notification.Module,
	ratelimit.Module,
	sweep.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// RateLimiter is the throttle surface the payment endpoints consult.
type RateLimiter interface {
	AllowOrder(ctx context.Context, enrollmentID string) bool
	AllowVerify(ctx context.Context, orderID string) bool
	AllowWebhook(ctx context.Context) bool
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	genID           *snowflake.Node
	courseSvc       coursedomain.Service
	enrollmentSvc   enrollmentdomain.Service
	paymentSvc      paymentdomain.Service
	webhookSvc      *paymentwebhook.Service
	notificationSvc notificationdomain.Service
	pdfProvider     pdf.Provider
	limiter         RateLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	CourseSvc       coursedomain.Service
	EnrollmentSvc   enrollmentdomain.Service
	PaymentSvc      paymentdomain.Service
	WebhookSvc      *paymentwebhook.Service
	NotificationSvc notificationdomain.Service
	PDFProvider     pdf.Provider
	Limiter         *ratelimit.PaymentLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		courseSvc:       p.CourseSvc,
		enrollmentSvc:   p.EnrollmentSvc,
		paymentSvc:      p.PaymentSvc,
		webhookSvc:      p.WebhookSvc,
		notificationSvc: p.NotificationSvc,
		pdfProvider:     p.PDFProvider,
	}
	if p.Limiter != nil {
		svc.limiter = p.Limiter
	}

	svc.registerPaymentRoutes()
	svc.registerEnrollmentRoutes()
	svc.registerCourseRoutes()
	svc.registerNotificationRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPaymentRoutes() {
	payments := s.engine.Group("/payments")

	payments.POST("/order", s.UserRequired(), s.CreatePaymentOrder)
	payments.POST("/verify", s.VerifyPayment)
	payments.POST("/webhook", s.HandleGatewayWebhook)
	payments.GET("/:id", s.UserRequired(), s.GetPayment)
	payments.POST("/:id/verify-admin", s.UserRequired(), s.AdminVerifyPayment)
	payments.GET("/:id/receipt", s.UserRequired(), s.GetPaymentReceipt)
}

func (s *Server) registerEnrollmentRoutes() {
	enrollments := s.engine.Group("/enrollments", s.UserRequired())

	enrollments.POST("", s.CreateEnrollment)
	enrollments.GET("", s.ListEnrollments)
	enrollments.GET("/:id", s.GetEnrollment)
	enrollments.GET("/:id/access", s.GetEnrollmentAccess)
	enrollments.POST("/:id/complete", s.CompleteEnrollment)
}

func (s *Server) registerCourseRoutes() {
	courses := s.engine.Group("/courses")

	courses.GET("", s.ListCourses)
	courses.GET("/:id", s.GetCourse)
	courses.POST("", s.UserRequired(), s.CreateCourse)
}

func (s *Server) registerNotificationRoutes() {
	notifications := s.engine.Group("/notifications", s.UserRequired())

	notifications.GET("", s.ListNotifications)
	notifications.GET("/unread-count", s.GetUnreadNotificationCount)
	notifications.POST("/:id/read", s.MarkNotificationRead)
}
