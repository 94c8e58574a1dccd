package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Lllllllleong/ocrflow/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

const ctxKeyEmail = "apiKeyEmail"

// requireAPIKey authenticates the bearer key, then applies the per-key limit.
func (s *server) requireAPIKey(c *gin.Context) {
	key, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "API key is required. Please provide it in the Authorization header as 'Bearer YOUR_API_KEY'.",
		})
		return
	}

	v := s.Keys.Validate(c.Request.Context(), key)
	if !v.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid OCR API key"})
		return
	}
	c.Set(ctxKeyEmail, v.Email)

	if !allow(c, s.ConvertLimiter, key) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Please try again later."})
		return
	}
	c.Next()
}

func (s *server) limitByIP(l ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !allow(c, l, c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// allow reports whether the request may proceed. A limiter backend failure
// admits the request.
func allow(c *gin.Context, l ratelimit.Limiter, token string) bool {
	if l == nil {
		return true
	}
	err := l.Allow(c.Request.Context(), token)
	if err == nil {
		return true
	}
	if errors.Is(err, ratelimit.ErrLimited) {
		return false
	}
	slog.Warn("Rate limiter unavailable, admitting request.", "path", c.FullPath(), "error", err)
	return true
}
