// Package apikey provides an authenticator that maps static bearer keys to
// identities. Keys are kept only as SHA-256 hashes and compared in constant
// time.
//
// Each key carries its own subject and tenant, which makes it the simplest
// way to give scripts and development setups separate document spaces
// without minting JWTs.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/rhuss/plauder/pkg/auth"
)

// Entry is one configured key and the identity it authenticates as. An
// empty Identity.Tenant falls back to the subject.
type Entry struct {
	Key      string
	Identity auth.Identity
}

type hashedKey struct {
	hash     [sha256.Size]byte
	identity auth.Identity
}

// Authenticator validates bearer tokens against a static key list.
type Authenticator struct {
	keys        []hashedKey
	passUnknown bool
}

var _ auth.Authenticator = (*Authenticator)(nil)

// Option configures an Authenticator.
type Option func(*Authenticator)

// PassUnknown makes unknown bearer tokens abstain instead of failing, so a
// later authenticator in the chain (JWT) can still accept them.
func PassUnknown() Option {
	return func(a *Authenticator) { a.passUnknown = true }
}

var errUnknownKey = errors.New("unknown API key")

// New creates an authenticator from entries. Entries with an empty key are
// skipped.
func New(entries []Entry, opts ...Option) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		id := e.Identity
		if id.Tenant == "" {
			id.Tenant = id.Subject
		}
		a.keys = append(a.keys, hashedKey{hash: sha256.Sum256([]byte(e.Key)), identity: id})
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate checks the bearer token in the Authorization header.
//
// Decision outcomes:
//   - Abstain: no Authorization header, not a Bearer scheme, or an unknown
//     key with PassUnknown
//   - No: empty or unknown key
//   - Yes: a configured key
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	sum := sha256.Sum256([]byte(token))
	match := -1
	for i := range a.keys {
		if subtle.ConstantTimeCompare(sum[:], a.keys[i].hash[:]) == 1 {
			match = i
		}
	}
	if match < 0 {
		if a.passUnknown {
			return auth.AuthResult{Decision: auth.Abstain}
		}
		return auth.AuthResult{Decision: auth.No, Err: errUnknownKey}
	}

	id := a.keys[match].identity
	id.Scopes = slices.Clone(id.Scopes)
	return auth.AuthResult{Decision: auth.Yes, Identity: &id}
}
