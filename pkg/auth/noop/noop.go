// Package noop provides an authenticator that accepts all requests as the
// anonymous identity. Used when auth.type is "none".
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/plauder/pkg/auth"
)

// Authenticator always returns Yes with the anonymous identity.
type Authenticator struct{}

var _ auth.Authenticator = (*Authenticator)(nil)

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.AuthResult {
	anon := auth.Anonymous
	return auth.AuthResult{Decision: auth.Yes, Identity: &anon}
}
