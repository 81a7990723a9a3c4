package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger writes one access line per request. Check requests also carry
// the gateway decision when the handler recorded one.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		requestID := c.GetString("request_id")

		decision := c.GetString("decision")
		if decision == "" {
			decision = "-"
		}

		log.Printf("[%s] %s %s - %d - %v - %s - %s",
			requestID,
			method,
			path,
			statusCode,
			latency,
			decision,
			c.ClientIP(),
		)
	}
}
