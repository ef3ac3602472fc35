package command

import (
	"context"
	"fmt"

	"github.com/mattjoyce/courier/internal/protocol"
)

// ScopeSource reports the scopes granted to a caller identity.
type ScopeSource interface {
	GetScopes(ctx context.Context, identity string) ([]string, error)
}

// Authorized gates an inner handler on a set of required scopes. The inner
// handler never runs when a scope is missing or the lookup fails.
type Authorized struct {
	inner    Handler
	scopes   ScopeSource
	required []string
}

// Authorize wraps inner so that callers must hold every required scope.
// A granted "*" satisfies any requirement.
func Authorize(inner Handler, scopes ScopeSource, required ...string) *Authorized {
	return &Authorized{inner: inner, scopes: scopes, required: required}
}

func (a *Authorized) CanHandle(req *protocol.Request) bool {
	return a.inner.CanHandle(req)
}

// CommandName forwards the inner name; unnamed inner handlers stay unnamed.
func (a *Authorized) CommandName() string {
	if n, ok := a.inner.(Named); ok {
		return n.CommandName()
	}
	return ""
}

func (a *Authorized) Describe() Description {
	if d, ok := a.inner.(Describer); ok {
		return d.Describe()
	}
	return Description{}
}

// Required returns the scopes this handler demands.
func (a *Authorized) Required() []string {
	return append([]string(nil), a.required...)
}

func (a *Authorized) Execute(ctx context.Context, req *protocol.Request) *protocol.Response {
	if len(a.required) == 0 {
		return a.inner.Execute(ctx, req)
	}

	granted, err := a.scopes.GetScopes(ctx, req.Package)
	if err != nil {
		return protocol.Fail(fmt.Sprintf("%v: scope lookup failed: %v", ErrAuthorizationDenied, err))
	}

	if missing := missingScopes(granted, a.required); len(missing) > 0 {
		return protocol.Fail((&DeniedError{Identity: req.Package, Missing: missing}).Error())
	}
	return a.inner.Execute(ctx, req)
}

// missingScopes returns required entries absent from granted, in required order.
func missingScopes(granted, required []string) []string {
	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		if s == "*" {
			return nil
		}
		have[s] = struct{}{}
	}
	var missing []string
	for _, s := range required {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}
