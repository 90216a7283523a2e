package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(0.001, 2)
	defer limiter.Close()

	router := gin.New()
	router.Use(RateLimit(limiter))
	router.POST("/posts", func(c *gin.Context) { c.Status(http.StatusCreated) })

	request := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/posts", nil)
		req.RemoteAddr = ip + ":1234"
		return perform(router, req).Code
	}

	assert.Equal(t, http.StatusCreated, request("192.0.2.1"))
	assert.Equal(t, http.StatusCreated, request("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("192.0.2.1"))

	// 不同地址互不影响
	assert.Equal(t, http.StatusCreated, request("192.0.2.2"))
	assert.Equal(t, 2, limiter.Len())
}

func TestRateLimitEvictIdle(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1)
	defer limiter.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(2 * time.Minute)
	limiter.Allow("b")
	now = now.Add(2 * time.Minute)

	limiter.evictIdle()
	assert.Equal(t, 1, limiter.Len())
}

func TestRateLimitDisabled(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(nil))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, perform(router, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	router := gin.New()
	router.Use(BodySizeLimit(8))
	router.POST("/upload", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if IsBodyTooLarge(err) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		require.NoError(t, err)
		c.Status(http.StatusOK)
	})

	t.Run("声明长度超限", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(make([]byte, 16)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, perform(router, req).Code)
	})

	t.Run("实际读取超限", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(make([]byte, 16)))
		req.ContentLength = -1
		assert.Equal(t, http.StatusRequestEntityTooLarge, perform(router, req).Code)
	})

	t.Run("未超限", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(make([]byte, 8)))
		rec := perform(router, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "8", rec.Header().Get("X-Max-Body-Size"))
	})
}

func TestRecoveryHandler(t *testing.T) {
	panics := 0
	router := gin.New()
	router.Use(RecoveryHandler(zap.NewNop(), func() { panics++ }), RequestLogger(zap.NewNop()), SecurityHeaders())
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := perform(router, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, panics)
	assert.JSONEq(t, `{"code":500,"msg":"服务器内部错误"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
