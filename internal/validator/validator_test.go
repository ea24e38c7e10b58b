package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestValidAccessCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"ABCDEFGH1", true},
		{"000000000", true},
		{"abcdefgh1", false},
		{"ABCDEFGH", false},
		{"ABCDEFGH12", false},
		{"ABCD-FGH1", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidAccessCode(tt.code))
		})
	}
}

type codeURI struct {
	Code string `uri:"code" json:"code" binding:"required,access_code"`
}

func TestBindURI_AccessCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Setup()

	r := gin.New()
	r.GET("/sessions/:code", func(c *gin.Context) {
		var uri codeURI
		if fields := BindURI(c, &uri); fields != nil {
			c.JSON(http.StatusBadRequest, fields)
			return
		}
		c.String(http.StatusOK, uri.Code)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/ABCDEFGH1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ABCDEFGH1", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "must be 9 uppercase letters or digits")
}

type examBody struct {
	Title string `json:"title" binding:"required,notblank,min=3"`
}

func TestBind_TranslatesFieldErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Setup()
	Setup()

	r := gin.New()
	r.POST("/exams", func(c *gin.Context) {
		var body examBody
		if fields := Bind(c, &body); fields != nil {
			c.JSON(http.StatusBadRequest, fields)
			return
		}
		c.Status(http.StatusCreated)
	})

	tests := []struct {
		name string
		body string
		want int
		msg  string
	}{
		{"valid", `{"title":"Biology"}`, http.StatusCreated, ""},
		{"blank", `{"title":"     "}`, http.StatusBadRequest, "title must not be blank"},
		{"missing", `{}`, http.StatusBadRequest, "title is a required field"},
		{"malformed", `{"title":`, http.StatusBadRequest, "detail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/exams", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, w.Code)
			if tt.msg != "" {
				assert.Contains(t, w.Body.String(), tt.msg)
			}
		})
	}
}
