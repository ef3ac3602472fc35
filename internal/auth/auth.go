package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Well-known admin scopes for the HTTP transport.
const (
	ScopeAll      = "*"
	ScopeGrantsRO = "grants:ro"
	ScopeGrantsRW = "grants:rw"
	ScopeUnitsRO  = "units:ro"
	ScopeUnitsRW  = "units:rw"
	ScopeEventsRO = "events:ro"
	ScopeEventsRW = "events:rw"
)

// TokenConfig binds a bearer token to the caller identity it speaks for and
// the admin scopes it carries on the HTTP surface.
type TokenConfig struct {
	Token    string
	Identity string
	Scopes   []string
}

type Principal struct {
	Identity string
	Scopes   map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("invalid Authorization header format")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against configured tokens.
func Authenticate(presented string, tokens []TokenConfig) (Principal, bool) {
	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Identity: t.Identity,
				Scopes:   normalizeScopes(t.Scopes),
			}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	// Write implies read.
	for rw, ro := range map[string]string{
		ScopeGrantsRW: ScopeGrantsRO,
		ScopeUnitsRW:  ScopeUnitsRO,
		ScopeEventsRW: ScopeEventsRO,
	} {
		if _, ok := out[rw]; ok {
			out[ro] = struct{}{}
		}
	}
	return out
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
