// Package jwt provides an authenticator that validates HS256-signed bearer
// tokens with a shared secret.
//
// The subject comes from the "sub" claim. The tenant comes from a
// configurable claim and falls back to the subject, so every authenticated
// caller gets its own document space unless the token says otherwise.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/plauder/pkg/auth"
	"github.com/rhuss/plauder/pkg/debug"
)

// Config holds the JWT authenticator configuration.
type Config struct {
	// Secret is the HMAC key. Required.
	Secret []byte

	// Issuer is the expected iss claim. If empty, issuer is not validated.
	Issuer string

	// Audience is the expected aud claim. If empty, audience is not validated.
	Audience string

	// TenantClaim names the claim carrying the tenant. Default: "tenant_id".
	TenantClaim string

	// ScopesClaim names the claim carrying scopes. Default: "scope".
	// The value can be a space-separated string or a JSON array.
	ScopesClaim string

	// Leeway tolerates clock skew when checking exp and nbf.
	Leeway time.Duration
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	config Config
	parser *jwtlib.Parser
}

var _ auth.Authenticator = (*Authenticator)(nil)

// ErrNoSecret is returned by New when Config.Secret is empty.
var ErrNoSecret = errors.New("jwt: secret is required")

// New creates a JWT authenticator with the given configuration.
func New(cfg Config) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	if cfg.TenantClaim == "" {
		cfg.TenantClaim = "tenant_id"
	}
	if cfg.ScopesClaim == "" {
		cfg.ScopesClaim = "scope"
	}

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{config: cfg, parser: jwtlib.NewParser(opts...)}, nil
}

// Authenticate extracts a bearer token from the Authorization header and
// validates it.
//
// Decision outcomes:
//   - Abstain: no Authorization header or not a Bearer scheme
//   - No: bearer token present but invalid (expired, wrong issuer, bad signature, etc.)
//   - Yes: valid JWT with populated Identity
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	header := r.Header.Get("Authorization")
	scheme, tokenStr, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return auth.AuthResult{Decision: auth.Abstain}
	}

	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(tokenStr, claims, func(*jwtlib.Token) (any, error) {
		return a.config.Secret, nil
	})
	if err != nil {
		debug.Log("auth", "JWT validation failed", "error", err)
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	subject, _ := claims.GetSubject()
	if subject == "" {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("JWT missing sub claim")}
	}

	tenant := claimString(claims, a.config.TenantClaim)
	if tenant == "" {
		tenant = subject
	}

	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject: subject,
			Tenant:  tenant,
			Scopes:  extractScopes(claims, a.config.ScopesClaim),
		},
	}
}

// Sign issues an HS256 token for subject, valid for ttl. Used by the CLI
// and tests to mint development tokens.
func Sign(secret []byte, subject, tenant string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if tenant != "" {
		claims["tenant_id"] = tenant
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
}

// claimString extracts a string value from JWT claims.
// Returns empty string if the claim is missing or not a string.
func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractScopes reads a space-separated string or a JSON array of strings.
func extractScopes(claims jwtlib.MapClaims, key string) []string {
	switch val := claims[key].(type) {
	case string:
		if parts := strings.Fields(val); len(parts) > 0 {
			return parts
		}
	case []any:
		var scopes []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	}
	return nil
}
