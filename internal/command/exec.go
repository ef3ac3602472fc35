package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/courier/internal/execrun"
	"github.com/mattjoyce/courier/internal/protocol"
)

// Runner executes an external program.
type Runner interface {
	Run(ctx context.Context, spec execrun.Spec, input execrun.Input) (*execrun.Result, error)
}

// NewExec returns a command backed by an executable. The request parameters
// and caller identity go to stdin; the JSON value on stdout becomes Returns.
func NewExec(name, displayName, summary string, runner Runner, spec execrun.Spec) *Command {
	return &Command{
		Name:        name,
		DisplayName: displayName,
		Summary:     summary,
		Run: func(ctx context.Context, req *protocol.Request) (any, error) {
			res, err := runner.Run(ctx, spec, execrun.Input{
				Kind:       "command",
				Name:       name,
				Identity:   req.Package,
				Version:    req.Version,
				Parameters: req.Parameters,
			})
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if len(res.Output) == 0 {
				return nil, nil
			}
			var out any
			if err := json.Unmarshal(res.Output, &out); err != nil {
				return nil, fmt.Errorf("%s: decode output: %w", name, err)
			}
			return out, nil
		},
	}
}
