package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/observability"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth          *handler.AuthHandler
	StudentPortal *handler.StudentPortalHandler
	Exam          *handler.ExamHandler
	WS            *handler.WSHandler
	Monitor       *handler.MonitorHandler
	System        *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	joinLimiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.MetricsEnabled {
		router.GET("/metrics", observability.MetricsHandler())
	}

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/student/logout",
			middleware.RequireStudentJWT(authService),
			middleware.CheckSingleDeviceSession(authService),
			handlers.Auth.StudentLogout,
		)
		auth.GET("/student/me",
			middleware.RequireStudentJWT(authService),
			middleware.CheckSingleDeviceSession(authService),
			handlers.Auth.GetStudentProfile,
		)
		auth.GET("/proctor/me", middleware.RequireProctorJWT(authService), handlers.Auth.GetProctorProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		studentAPI.POST("/exams/:exam_id/join", joinLimiter.Middleware(), handlers.StudentPortal.JoinExam)
		studentAPI.GET("/exams/:exam_id/outline", handlers.StudentPortal.GetExamOutline)
		studentAPI.GET("/exams/:exam_id/state", handlers.StudentPortal.GetExamState)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentWSAuth(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.ExamWebSocketStream)
	}

	// ─── 4. Proctor Group (JWT + permissions) ──────────────────────────
	proctorAPI := router.Group("/api/v1/proctor")
	proctorAPI.Use(middleware.RequireProctorJWT(authService))
	{
		// Exam room desk
		proctorAPI.POST("/students/:student_id/token",
			middleware.RequirePermission(service.PermissionMonitor),
			handlers.Auth.IssueStudentToken,
		)
		proctorAPI.DELETE("/students/:student_id/session",
			middleware.RequirePermission(service.PermissionMonitor),
			handlers.Auth.ResetStudentSession,
		)

		// Exam lifecycle
		proctorAPI.POST("/exams/:exam_id/publish",
			middleware.RequirePermission(service.PermissionPublish),
			handlers.Exam.PublishExam,
		)
		proctorAPI.POST("/exams/:exam_id/refresh-cache",
			middleware.RequirePermission(service.PermissionPublish),
			handlers.Exam.RefreshExamCache,
		)
		proctorAPI.GET("/exams/:exam_id/results",
			middleware.RequireAnyPermission(service.PermissionMonitor, service.PermissionReview),
			handlers.Exam.GetExamResults,
		)

		// Live monitoring
		proctorAPI.GET("/exams/:exam_id/monitor",
			middleware.RequirePermission(service.PermissionMonitor),
			handlers.Monitor.MonitorExamSSE,
		)
		proctorAPI.GET("/system/metrics",
			middleware.RequirePermission(service.PermissionMonitor),
			handlers.System.SystemMetricsSSE,
		)

		// Review requests
		proctorAPI.GET("/exams/:exam_id/reviews",
			middleware.RequirePermission(service.PermissionReview),
			handlers.Monitor.ListReviews,
		)
		proctorAPI.PATCH("/exams/:exam_id/reviews/:review_id",
			middleware.RequirePermission(service.PermissionReview),
			handlers.Monitor.ResolveReview,
		)
	}

	return router
}
