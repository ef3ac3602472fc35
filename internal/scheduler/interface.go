package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/courier/internal/activation"
	"github.com/mattjoyce/courier/internal/background"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/courier/internal/scheduler RegistrationSource,Activator

// RegistrationSource is the host registration table the scheduler fires from.
type RegistrationSource interface {
	Registrations(ctx context.Context) ([]background.Registration, error)
	MarkFired(ctx context.Context, id string, at time.Time) error
	Unregister(ctx context.Context, id string) error
}

// Activator runs a fired unit. It owns the deferral it is handed.
type Activator interface {
	HandleTrigger(ctx context.Context, act background.Activation, d activation.Deferral) error
}

// TokenSource issues completion deferrals.
type TokenSource interface {
	Acquire() (activation.Deferral, error)
}

// Journal is the activation log maintenance the scheduler performs.
type Journal interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
	FailRunning(ctx context.Context, reason string) (int64, error)
}

// UnitObserver learns about registrations the scheduler removes.
type UnitObserver interface {
	MarkUnregistered(name string)
}
