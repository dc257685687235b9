package middleware

import (
	"net/http"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimitMiddleware_Basic(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})

	r := gin.New()
	r.POST("/r", RedisRateLimitMiddleware(client, 1, 0, time.Second), func(c *gin.Context) { c.Status(http.StatusFound) })

	// a window boundary between the two calls would reset the counter
	for time.Now().UnixMilli()%1000 > 800 {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, http.StatusFound, serve(r, http.MethodPost, "/r", ""))
	require.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost, "/r", ""))
	require.Len(t, m.Keys(), 1)
}

func TestRedisRateLimitMiddleware_FailsOpen(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	m.Close()

	r := gin.New()
	r.POST("/r", RedisRateLimitMiddleware(client, 1, 0, time.Second), func(c *gin.Context) { c.Status(http.StatusFound) })
	require.Equal(t, http.StatusFound, serve(r, http.MethodPost, "/r", ""))
}

func TestRedisRateLimitMiddleware_NilClientFallsBack(t *testing.T) {
	r := gin.New()
	r.POST("/r", RedisRateLimitMiddleware(nil, 0.1, 1, time.Second), func(c *gin.Context) { c.Status(http.StatusFound) })
	require.Equal(t, http.StatusFound, serve(r, http.MethodPost, "/r", ""))
	require.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost, "/r", ""))
}
