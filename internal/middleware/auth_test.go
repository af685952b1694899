package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/citylens/citylens/pkg/auth/apikey"

	"github.com/gin-gonic/gin"
)

func authTestRouter(keys []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", AuthMiddleware(apikey.NewValidator(keys)), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": UserID(c)})
	})
	return r
}

func TestAuthAcceptsValidKey(t *testing.T) {
	r := authTestRouter([]string{"secret"})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAuthRejectsMissingAndWrongKey(t *testing.T) {
	r := authTestRouter([]string{"secret"})

	for _, key := range []string{"", "wrong"} {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("key %q: expected 401, got %d", key, w.Code)
		}
	}
}

func TestAuthUnconfiguredIs500(t *testing.T) {
	r := authTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-API-Key", "anything")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unconfigured validator, got %d", w.Code)
	}
}
