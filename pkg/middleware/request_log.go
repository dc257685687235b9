package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/restfulblog/restfulblog/pkg/logger"
)

// RequestLogger writes one line per request through the leveled logger.
// 5xx responses are logged at error, everything else at info.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		line := "%s %s -> %d (%s) %s"
		args := []interface{}{c.Request.Method, path, status, time.Since(start).Round(time.Microsecond), c.ClientIP()}
		if loc := c.Writer.Header().Get("Location"); loc != "" {
			line += " location=%s"
			args = append(args, loc)
		}
		if status >= 500 {
			logger.Errorf(line, args...)
			return
		}
		logger.Infof(line, args...)
	}
}
