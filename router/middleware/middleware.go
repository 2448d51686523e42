package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/luigi-project/hearth/config"
	"github.com/luigi-project/hearth/installer"
	"github.com/luigi-project/hearth/registry"
	"github.com/luigi-project/hearth/status"
	"github.com/luigi-project/hearth/updates"
)

// Context keys under which shared components are attached to each request.
const (
	keyRequestID  = "request_id"
	keyLogger     = "logger"
	keyStore      = "registry_store"
	keyAggregator = "status_aggregator"
	keyChecker    = "update_checker"
	keyInstaller  = "installer"
)

// AttachRequestID generates a unique id for the incoming request and seeds a
// request-scoped logger with it.
func AttachRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set(keyRequestID, id)
		c.Set(keyLogger, log.WithField("request_id", id))
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// AttachStore attaches the registry store to the request context.
func AttachStore(s *registry.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(keyStore, s)
		c.Next()
	}
}

// AttachAggregator attaches the status aggregator to the request context.
func AttachAggregator(a *status.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(keyAggregator, a)
		c.Next()
	}
}

// AttachChecker attaches the update checker to the request context.
func AttachChecker(u *updates.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(keyChecker, u)
		c.Next()
	}
}

// AttachInstaller attaches the installer to the request context.
func AttachInstaller(i *installer.Installer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(keyInstaller, i)
		c.Next()
	}
}

// ExtractStore returns the registry store attached to the request.
func ExtractStore(c *gin.Context) *registry.Store {
	return c.MustGet(keyStore).(*registry.Store)
}

// ExtractAggregator returns the status aggregator attached to the request.
func ExtractAggregator(c *gin.Context) *status.Aggregator {
	return c.MustGet(keyAggregator).(*status.Aggregator)
}

// ExtractChecker returns the update checker attached to the request.
func ExtractChecker(c *gin.Context) *updates.Checker {
	return c.MustGet(keyChecker).(*updates.Checker)
}

// ExtractInstaller returns the installer attached to the request.
func ExtractInstaller(c *gin.Context) *installer.Installer {
	return c.MustGet(keyInstaller).(*installer.Installer)
}

// ExtractLogger returns the request-scoped logger.
func ExtractLogger(c *gin.Context) *log.Entry {
	if v, ok := c.Get(keyLogger); ok {
		return v.(*log.Entry)
	}
	return log.WithField("request_id", "unknown")
}

// RequestID returns the id assigned to the request.
func RequestID(c *gin.Context) string {
	return c.GetString(keyRequestID)
}

// SetAccessControlHeaders sets the CORS headers for the dashboard.
func SetAccessControlHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequireAuthorization requires a "Bearer <token>" Authorization header
// matching the configured admin token on every request it wraps.
func RequireAuthorization() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := config.Get().Api.Token
		auth := c.GetHeader("Authorization")
		if token == "" || !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "The required authorization header was not present in the request.",
				"kind":  "unauthorized",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(auth, "Bearer ")), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "You are not authorized to access this endpoint.",
				"kind":  "forbidden",
			})
			return
		}
		c.Next()
	}
}
