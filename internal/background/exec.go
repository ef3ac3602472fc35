package background

import (
	"context"
	"fmt"

	"github.com/mattjoyce/courier/internal/execrun"
)

// Runner executes an external program.
type Runner interface {
	Run(ctx context.Context, spec execrun.Spec, input execrun.Input) (*execrun.Result, error)
}

// ExecUnit returns a unit whose body runs an executable. Output on stdout is
// ignored; a non-zero exit fails the activation.
func ExecUnit(name string, trigger Trigger, requiresNetwork bool, runner Runner, spec execrun.Spec) Unit {
	return Unit{
		Name:            name,
		Trigger:         trigger,
		RequiresNetwork: requiresNetwork,
		Run: func(ctx context.Context, act Activation) error {
			_, err := runner.Run(ctx, spec, execrun.Input{
				Kind:         "unit",
				Name:         name,
				ActivationID: act.ID,
				Parameters: map[string]any{
					"trigger":         trigger.String(),
					"registration_id": act.RegistrationID,
					"fired_at":        act.FiredAt,
				},
			})
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		},
	}
}
