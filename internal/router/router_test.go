package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// Requests in these tests are rejected before any handler touches a service.
func setupTestRouter(t *testing.T) (*gin.Engine, *service.AuthService) {
	t.Helper()
	validator.Setup()

	auth := service.NewAuthService("router-test-secret", time.Hour)
	limiter := middleware.NewRateLimiter(10, time.Minute, 1)
	t.Cleanup(limiter.Stop)

	handlers := &Handlers{
		Exam:    &handler.ExamHandler{},
		Session: &handler.SessionHandler{},
		Student: &handler.StudentHandler{},
		Monitor: &handler.MonitorHandler{},
		WS:      &handler.WSHandler{},
	}
	return SetupRouter(auth, handlers, limiter, &config.Config{GinMode: gin.TestMode}), auth
}

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "10.1.2.3:4000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = serve(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_AdminRequiresToken(t *testing.T) {
	r, auth := setupTestRouter(t)

	w := serve(r, http.MethodGet, "/api/v1/admin/exams/not-a-uuid", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, _, err := auth.GenerateAdminToken("proctor")
	require.NoError(t, err)
	w = serve(r, http.MethodGet, "/api/v1/admin/exams/not-a-uuid", token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_ID")
}

func TestRouter_AccessCodeRoutesAreRateLimited(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := serve(r, http.MethodGet, "/api/v1/sessions/bad", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodGet, "/ws/v1/sessions/bad/stream", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}
