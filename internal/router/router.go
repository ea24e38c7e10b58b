package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam    *handler.ExamHandler
	Session *handler.SessionHandler
	Student *handler.StudentHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// codeLimiter guards every route that takes an access code.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	codeLimiter *middleware.RateLimiter,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.MetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.PrometheusHandler())

	// ─── 1. Student Group (Access Code, Rate Limited) ──────────────────
	studentAPI := router.Group("/api/v1/sessions")
	studentAPI.Use(codeLimiter.Middleware(), middleware.NoStore())
	{
		studentAPI.GET("/:code", handlers.Student.CheckAccessCode)
	}

	// ─── 2. WebSocket Group (Access Code, Rate Limited) ────────────────
	ws := router.Group("/ws/v1")
	ws.Use(codeLimiter.Middleware())
	{
		ws.GET("/sessions/:code/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Admin Group (JWT, Compressed) ──────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireAdminJWT(authService),
		middleware.NoStore(),
		middleware.Brotli(),
	)
	{
		adminAPI.GET("/exams", handlers.Exam.ListExams)
		adminAPI.POST("/exams", handlers.Exam.CreateExam)
		adminAPI.GET("/exams/:id", handlers.Exam.GetExam)
		adminAPI.POST("/exams/:id/deactivate", handlers.Exam.DeactivateExam)

		adminAPI.POST("/exams/:id/sessions", handlers.Session.IssueSessions)
		adminAPI.DELETE("/exams/:id/sessions", handlers.Session.ClearSessions)
		adminAPI.GET("/exams/:id/results", handlers.Session.GetResults)

		adminAPI.GET("/exams/:id/progress", handlers.Monitor.GetProgress)
		adminAPI.GET("/exams/:id/monitor", handlers.Monitor.MonitorExamSSE)

		adminAPI.DELETE("/sessions/:session_id", handlers.Session.DeleteSession)
		adminAPI.POST("/sessions/:session_id/reopen", handlers.Session.ReopenSession)
	}

	return router
}
