package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/observability"
	"github.com/rhuss/plauder/pkg/storage"
	"github.com/rhuss/plauder/pkg/transport"
)

// Middleware creates HTTP middleware from an AuthChain and optional RateLimiter.
// It checks the bypass list, runs authentication, injects identity and
// tenant into the request context, and enforces the rate limit.
//
// A bypass entry ending in "/" matches every path below it.
func Middleware(chain *AuthChain, limiter RateLimiter, bypassEndpoints []string) transport.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassed(r.URL.Path, bypassEndpoints) {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)

			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="plauder"`)
				transport.WriteErrorResponse(w, api.NewAuthenticationError("authentication required"), http.StatusUnauthorized)
				return
			}

			id := result.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}

			debug.Log("auth", "authenticated", "subject", id.Subject, "tenant", id.Tenant, "path", r.URL.Path)

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded", "subject", id.Subject)
					observability.RateLimitRejectedTotal.WithLabelValues(tenantLabel(id)).Inc()
					w.Header().Set("Retry-After", "1")
					transport.WriteAPIError(w, api.NewTooManyRequestsError("rate limit exceeded"))
					return
				}
			}

			ctx := SetIdentity(r.Context(), id)
			if id.Tenant != "" {
				ctx = storage.SetTenant(ctx, id.Tenant)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bypassed(path string, endpoints []string) bool {
	for _, ep := range endpoints {
		if path == ep || (strings.HasSuffix(ep, "/") && strings.HasPrefix(path, ep)) {
			return true
		}
	}
	return false
}

func tenantLabel(id *Identity) string {
	if id.Tenant == "" {
		return "default"
	}
	return id.Tenant
}

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}
