package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func setupTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handlers...)
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": c.GetString(ActorKey)})
	})
	return router
}

func signToken(t *testing.T, claims Claims, method jwt.SigningMethod, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	router := setupTestRouter(RequestID())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestRequestLogger_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	router := setupTestRouter(RequestID(), RequestLogger(logger))
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Request-ID", "req-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Contains(t, buf.String(), `"status":200`)
}

func TestActor_HeaderModeWithoutSecret(t *testing.T) {
	router := setupTestRouter(Actor(""))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-User-ID", "mgr-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mgr-1")
}

func TestJWTAuth(t *testing.T) {
	router := setupTestRouter(Actor(testSecret))

	valid := signToken(t, Claims{
		UserID: "admin-1",
		Roles:  []string{"admin"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, jwt.SigningMethodHS256, testSecret)

	expired := signToken(t, Claims{
		UserID: "admin-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, jwt.SigningMethodHS256, testSecret)

	wrongKey := signToken(t, Claims{UserID: "admin-1"}, jwt.SigningMethodHS256, "other")
	subjectOnly := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}}, jwt.SigningMethodHS256, testSecret)

	tests := []struct {
		name   string
		header string
		status int
		actor  string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "admin-1"},
		{"subject fallback", "Bearer " + subjectOnly, http.StatusOK, "sub-1"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.actor != "" {
				assert.Contains(t, w.Body.String(), tt.actor)
			}
		})
	}
}

func TestRequireAnyRole(t *testing.T) {
	token := func(roles ...string) string {
		return "Bearer " + signToken(t, Claims{UserID: "u-1", Roles: roles}, jwt.SigningMethodHS256, testSecret)
	}
	router := setupTestRouter(Actor(testSecret), RequireAnyRole("admin"))

	for header, status := range map[string]int{
		token("admin"):       http.StatusOK,
		token("super_admin"): http.StatusOK,
		token("manager"):     http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, status, w.Code)
	}

	headerMode := setupTestRouter(Actor(""), RequireAnyRole("admin"))
	w := httptest.NewRecorder()
	headerMode.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS_Preflight(t *testing.T) {
	router := setupTestRouter(CORS([]string{"http://localhost:4200"}))
	router.OPTIONS("/whoami", func(c *gin.Context) {})

	req := httptest.NewRequest(http.MethodOptions, "/whoami", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:4200", w.Header().Get("Access-Control-Allow-Origin"))
}
