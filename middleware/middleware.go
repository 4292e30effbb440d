package middleware

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"MentorLink/logger"
)

// Origin rejects cross-site requests from hosts outside the allowlist.
// An empty allowlist only admits same-origin and non-browser clients.
func Origin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		u, err := url.Parse(origin)
		if err != nil {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		if u.Host == c.Request.Host {
			c.Next()
			return
		}
		if _, ok := set[u.Host]; !ok {
			logger.Warnf("[http] rejected origin=%s host=%s", origin, c.Request.Host)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// AllowedOrigin adapts the same allowlist for the websocket upgrader's
// CheckOrigin hook.
func AllowedOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Host == r.Host {
			return true
		}
		_, ok := set[u.Host]
		return ok
	}
}

// Recovery turns handler panics into 500s instead of killing the
// process.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[http] panic path=%s: %v", c.Request.URL.Path, r)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// AccessLog is a compact request log, websocket upgrades included.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("[http] %s %s status=%d took=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
