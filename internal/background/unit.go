// Package background keeps the set of named background units and reconciles
// it against the registrations the host holds.
package background

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateUnit = errors.New("duplicate background unit")
	ErrUnknownUnit   = errors.New("unknown background unit")
	ErrSealed        = errors.New("background registry is sealed")
	ErrRegistration  = errors.New("registration denied")
)

// Activation describes one firing of a unit.
type Activation struct {
	ID             string
	Unit           string
	Trigger        Trigger
	RegistrationID string
	FiredAt        time.Time
}

// RunFunc is a unit body.
type RunFunc func(ctx context.Context, act Activation) error

// Unit is a named piece of background work.
type Unit struct {
	Name            string
	Trigger         Trigger
	RequiresNetwork bool
	Run             RunFunc
}

// Access is the host's answer to a background access request.
type Access string

const (
	AccessGranted        Access = "granted"
	AccessDenied         Access = "denied"
	AccessDeniedByPolicy Access = "denied-by-policy"
)

// Registration is the host-side record for a unit.
type Registration struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Trigger         string     `json:"trigger"`
	Fingerprint     string     `json:"fingerprint"`
	RequiresNetwork bool       `json:"requires_network"`
	RegisteredAt    time.Time  `json:"registered_at"`
	LastFiredAt     *time.Time `json:"last_fired_at,omitempty"`
}

//go:generate mockgen -destination=mocks/mock_host.go -package=mocks github.com/mattjoyce/courier/internal/background Host

// Host is the host's background trigger API.
type Host interface {
	RequestAccess(ctx context.Context) (Access, error)
	Register(ctx context.Context, name string, trigger Trigger, requiresNetwork bool) (Registration, error)
	Unregister(ctx context.Context, id string) error
	Registrations(ctx context.Context) ([]Registration, error)
}

// RegistrationDeniedError records why a unit could not be registered.
type RegistrationDeniedError struct {
	Unit   string
	Access Access
}

func (e *RegistrationDeniedError) Error() string {
	return fmt.Sprintf("registration denied for unit %q: %s", e.Unit, e.Access)
}

func (e *RegistrationDeniedError) Is(target error) bool { return target == ErrRegistration }

// State is a unit's registration state.
type State string

const (
	StatePending      State = "pending"
	StateActive       State = "active"
	StateInactive     State = "inactive"
	StateUnregistered State = "unregistered"
)

// Status is the current view of one unit.
type Status struct {
	Name           string    `json:"name"`
	Trigger        string    `json:"trigger"`
	State          State     `json:"state"`
	RegistrationID string    `json:"registration_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}
