package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/pkg/consume"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/models"
	"conduit/pkg/pipe"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddleware_LimitsPerClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := gin.New()
	router.Use(Middleware(ctx, Config{RPS: 1, Burst: 2, CleanupInterval: time.Minute, MaxAge: time.Minute}))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)

	limited := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
}

func newMessage() *consume.Context {
	return consume.NewContext("orders", models.NewMessageEnvelopeBuilder().
		WithID("1").
		WithType("order.submitted").
		WithSource("test").
		Build())
}

func TestUseRateLimit_DelaysBeyondBurst(t *testing.T) {
	var delivered int
	p, err := pipe.Build(
		UseRateLimit[*consume.Context](50, 1),
		pipe.UseFilter[*consume.Context](pipe.NewFilterFunc("count", func(ctx context.Context, c *consume.Context, next pipe.Pipe[*consume.Context]) error {
			delivered++
			return next.Send(ctx, c)
		})),
	)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Send(context.Background(), newMessage()))
	}

	assert.Equal(t, 3, delivered)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestUseRateLimit_CancelledWait(t *testing.T) {
	p, err := pipe.Build(UseRateLimit[*consume.Context](0.001, 1))
	require.NoError(t, err)

	require.NoError(t, p.Send(context.Background(), newMessage()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Send(ctx, newMessage()))
}

func TestUseRateLimit_Validate(t *testing.T) {
	_, err := pipe.Build(UseRateLimit[*consume.Context](0, 0))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsBuildValidation(err))

	results := pipe.Validate(UseRateLimit[*consume.Context](-1, 5))
	require.Len(t, results, 1)
	assert.Equal(t, "rateLimit.rps", results[0].Key)
}

func TestUseRateLimit_Probe(t *testing.T) {
	p, err := pipe.Build(UseRateLimit[*consume.Context](5, 10))
	require.NoError(t, err)

	filters := pipe.Describe(p)["filters"].([]map[string]any)
	require.Len(t, filters, 1)
	assert.Equal(t, "rate-limit", filters[0]["filterType"])
	assert.Equal(t, float64(5), filters[0]["rps"])
	assert.Equal(t, 10, filters[0]["burst"])
}
