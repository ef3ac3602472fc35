package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "Bearer   abc  ", want: "abc"},
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer ", wantErr: true},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		got, err := ExtractBearerToken(r)
		if tc.wantErr {
			assert.Error(t, err, "header %q", tc.header)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "admin-token", Identity: "ops.console", Scopes: []string{"*"}},
		{Token: "app-token", Identity: "com.example.app", Scopes: []string{" grants:rw ", ""}},
	}

	p, ok := Authenticate("app-token", tokens)
	require.True(t, ok)
	assert.Equal(t, "com.example.app", p.Identity)
	assert.True(t, HasAnyScope(p, ScopeGrantsRO), "rw should imply ro")
	assert.False(t, HasAnyScope(p, ScopeUnitsRO))

	admin, ok := Authenticate("admin-token", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(admin, ScopeUnitsRW))

	_, ok = Authenticate("nope", tokens)
	assert.False(t, ok)
	_, ok = Authenticate("", []TokenConfig{{Token: ""}})
	assert.False(t, ok, "empty tokens never match")
}

func TestHasAnyScopeWithNoRequirement(t *testing.T) {
	assert.True(t, HasAnyScope(Principal{}))
}
