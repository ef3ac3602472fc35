package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/protocol"
)

type staticScopes map[string][]string

func (s staticScopes) GetScopes(_ context.Context, identity string) ([]string, error) {
	return s[identity], nil
}

type failingScopes struct{}

func (failingScopes) GetScopes(context.Context, string) ([]string, error) {
	return nil, errors.New("database is locked")
}

func TestAuthorizedDeniesWithoutInvokingInner(t *testing.T) {
	inner := &spy{claim: claimAll, result: "secret"}
	h := Authorize(inner, staticScopes{"app.x": {"read"}}, "write", "read", "admin")

	resp := h.Execute(context.Background(), request("x"))
	require.False(t, resp.Success)
	assert.Zero(t, inner.calls)
	assert.Contains(t, resp.Error, "write, admin")
	assert.Contains(t, resp.Error, `"app.x"`)
}

func TestAuthorizedAllows(t *testing.T) {
	inner := &spy{claim: claimAll, result: "secret"}

	h := Authorize(inner, staticScopes{"app.x": {"read", "write"}}, "write")
	resp := h.Execute(context.Background(), request("x"))
	require.True(t, resp.Success)
	assert.Equal(t, 1, inner.calls)

	wild := Authorize(inner, staticScopes{"app.x": {"*"}}, "anything")
	assert.True(t, wild.Execute(context.Background(), request("x")).Success)
}

func TestAuthorizedLookupFailure(t *testing.T) {
	inner := &spy{claim: claimAll}
	h := Authorize(inner, failingScopes{}, "read")

	resp := h.Execute(context.Background(), request("x"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "database is locked")
	assert.Zero(t, inner.calls)
}

func TestAuthorizedThroughRegistry(t *testing.T) {
	inner := &Command{Name: "secret", Summary: "s", Run: func(context.Context, *protocol.Request) (any, error) {
		t.Fatal("inner must not run")
		return nil, nil
	}}
	reg := NewRegistry()
	reg.MustRegister(Authorize(inner, staticScopes{}, "secret:read"))

	resp := reg.Dispatch(context.Background(), request("SECRET"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "secret:read")

	// Named and described through the wrapper.
	require.Len(t, reg.Descriptions(), 1)
	assert.Equal(t, "secret", reg.Descriptions()[0].Name)
}

func TestDeniedErrorIs(t *testing.T) {
	err := error(&DeniedError{Identity: "a", Missing: []string{"s"}})
	assert.ErrorIs(t, err, ErrAuthorizationDenied)
}

func TestMissingScopes(t *testing.T) {
	assert.Nil(t, missingScopes([]string{"a", "b"}, []string{"b", "a"}))
	assert.Equal(t, []string{"c", "a"}, missingScopes([]string{"b"}, []string{"c", "b", "a"}))
}
