package command

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/execrun"
)

type fakeRunner struct {
	got execrun.Input
	out string
	err error
}

func (f *fakeRunner) Run(_ context.Context, _ execrun.Spec, in execrun.Input) (*execrun.Result, error) {
	f.got = in
	if f.err != nil {
		return &execrun.Result{}, f.err
	}
	return &execrun.Result{Output: json.RawMessage(f.out)}, nil
}

func TestExecCommand(t *testing.T) {
	fr := &fakeRunner{out: `{"sum": 3}`}
	cmd := NewExec("add", "Add", "Adds numbers.", fr, execrun.Spec{Path: "/bin/add"})

	req := request("add")
	req.Parameters["a"] = 1
	resp := cmd.Execute(context.Background(), req)

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, map[string]any{"sum": float64(3)}, resp.Result)
	assert.Equal(t, "command", fr.got.Kind)
	assert.Equal(t, "app.x", fr.got.Identity)
	assert.Equal(t, 1, fr.got.Parameters["a"])
}

func TestExecCommandFailure(t *testing.T) {
	fr := &fakeRunner{err: &execrun.ExitError{Code: 2, Stderr: "bad input\n"}}
	cmd := NewExec("add", "", "", fr, execrun.Spec{Path: "/bin/add"})

	resp := cmd.Execute(context.Background(), request("add"))
	assert.False(t, resp.Success)
	assert.Equal(t, "add: exit status 2: bad input", resp.Error)
}
