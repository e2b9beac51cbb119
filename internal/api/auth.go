package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/bridgetrace/internal/config"
)

// ──────────────────────────────────────────────────────────────────
// Credential Authentication Middleware
//
// A request is accepted when it carries either
//   X-API-Key: <key>
// or
//   Authorization: Bearer <token>
// matching one of the configured credentials. With no credentials
// configured every request passes (development mode).
// ──────────────────────────────────────────────────────────────────

// AuthMiddleware returns a Gin middleware that validates API keys and bearer tokens.
func AuthMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	keys := credentialSet(cfg.APIKeys)
	tokens := credentialSet(cfg.BearerTokens)

	return func(c *gin.Context) {
		if !cfg.Enabled() {
			c.Next()
			return
		}

		if key := c.GetHeader("X-API-Key"); key != "" && matchAny(keys, key) {
			c.Next()
			return
		}

		if auth := c.GetHeader("Authorization"); auth != "" {
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") &&
				matchAny(tokens, strings.TrimSpace(parts[1])) {
				c.Next()
				return
			}
		}

		c.Header("WWW-Authenticate", `Bearer realm="bridgetrace"`)
		abortJSON(c, http.StatusUnauthorized, codeUnauthorized, "authentication required")
	}
}

func credentialSet(values []string) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, []byte(v))
		}
	}
	return out
}

// matchAny compares against every credential so the time taken does not
// depend on which one matched.
func matchAny(set [][]byte, candidate string) bool {
	got := []byte(candidate)
	ok := 0
	for _, want := range set {
		ok |= subtle.ConstantTimeCompare(got, want)
	}
	return ok == 1
}
