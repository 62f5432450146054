package api

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	limiterMu sync.Mutex
	limiters  = make(map[string]*clientLimiter)
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func init() {
	// Evict limiters for clients that have gone quiet.
	go func() {
		for {
			time.Sleep(5 * time.Minute)
			limiterMu.Lock()
			for ip, cl := range limiters {
				if time.Since(cl.lastSeen) > 10*time.Minute {
					delete(limiters, ip)
				}
			}
			limiterMu.Unlock()
		}
	}()
}

func getLimiter(ip string, rps rate.Limit, burst int) *rate.Limiter {
	limiterMu.Lock()
	defer limiterMu.Unlock()
	cl, ok := limiters[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rps, burst)}
		limiters[ip] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

// RateLimitMiddleware throttles per client IP.
func RateLimitMiddleware(rps rate.Limit, burst int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !getLimiter(c.ClientIP(), rps, burst).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":  "RATE_LIMITED",
				"error": "too many requests",
			})
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware attaches a request id, reusing the caller's when given.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestLogger logs one line per request with latency and status.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Printf("api: %s %s %d %s", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// TimeoutMiddleware fails requests that outrun the budget. Handler panics are
// re-raised on the calling goroutine so Recovery still sees them.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		done := make(chan struct{})
		panicChan := make(chan any, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicChan <- p
				}
			}()
			c.Next()
			close(done)
		}()
		select {
		case <-done:
		case p := <-panicChan:
			panic(p)
		case <-time.After(timeout):
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{
				"code":  "TIMEOUT",
				"error": fmt.Sprintf("request exceeded %s", timeout),
			})
		}
	}
}

// CORSMiddleware allows browser clients on other origins.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
