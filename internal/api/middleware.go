package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/bridgetrace/internal/audit"
	"github.com/rawblock/bridgetrace/internal/metrics"
)

const (
	headerRequestID = "X-Request-ID"
	headerTenantID  = "X-Tenant-ID"

	ctxRequestID = "request_id"
	ctxTenantID  = "tenant_id"
)

// AuditLog records API actions.
type AuditLog interface {
	Append(e audit.Entry) (audit.Entry, error)
	Tail(limit int) ([]audit.Entry, error)
}

// RequestContext assigns the request id (reusing a client-supplied
// X-Request-ID) and resolves the tenant, echoing both as response headers.
func RequestContext(defaultTenant string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		tenant := c.GetHeader(headerTenantID)
		if tenant == "" {
			tenant = defaultTenant
		}
		c.Set(ctxRequestID, id)
		c.Set(ctxTenantID, tenant)
		c.Header(headerRequestID, id)
		c.Header(headerTenantID, tenant)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

func tenantID(c *gin.Context) string {
	return c.GetString(ctxTenantID)
}

// CORS allows the configured origins. An empty list or "*" allows any origin.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if _, ok := allowed[origin]; ok && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID, X-Tenant-ID")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-Tenant-ID, Retry-After")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestMetrics counts requests by method, route template and status.
func RequestMetrics(col *metrics.Collectors) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if col == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		col.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// TenantQuota enforces the per-tenant request quota. Denials are audited.
func TenantQuota(limiter *RateLimiter, log AuditLog, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := tenantID(c)
		allowed, retryAfter := limiter.Allow(tenant)
		if !allowed {
			appendAudit(log, logger, audit.Entry{
				TenantID:  tenant,
				Action:    "quota_check",
				RequestID: requestID(c),
				Outcome:   "denied",
				Metadata:  map[string]any{"path": c.Request.URL.Path},
			})
			c.Header("Retry-After", retryAfterSeconds(retryAfter))
			abortJSON(c, http.StatusTooManyRequests, codeQuota, "tenant quota exceeded")
			return
		}
		c.Next()
	}
}

// Audit records every request that reaches it once the handler has run.
func Audit(log AuditLog, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appendAudit(log, logger, audit.Entry{
			TenantID:  tenantID(c),
			Action:    "api_call",
			RequestID: requestID(c),
			Outcome:   strconv.Itoa(c.Writer.Status()),
			Metadata: map[string]any{
				"path":        c.Request.URL.Path,
				"method":      c.Request.Method,
				"duration_ms": time.Since(start).Milliseconds(),
			},
		})
	}
}

func appendAudit(log AuditLog, logger *zap.Logger, e audit.Entry) {
	if log == nil {
		return
	}
	if _, err := log.Append(e); err != nil {
		logger.Warn("audit append failed", zap.String("action", e.Action), zap.Error(err))
	}
}

// AccessLog writes one structured line per request.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", requestID(c)),
		)
	}
}
