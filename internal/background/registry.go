package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/log"
)

// Registry owns the process's background units. Units are added at startup;
// Reconcile seals the set and later reads need no coordination with writers.
type Registry struct {
	host   Host
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	units  map[string]Unit
	order  []string
	sealed bool

	statusMu sync.Mutex
	status   map[string]*Status
}

func NewRegistry(host Host, pub events.Publisher) *Registry {
	return &Registry{
		host:   host,
		pub:    events.OrDiscard(pub),
		logger: log.WithComponent("background"),
		now:    func() time.Time { return time.Now().UTC() },
		units:  make(map[string]Unit),
		status: make(map[string]*Status),
	}
}

// RegisterUnit adds u. Names are unique; a second unit with the same name is
// rejected with ErrDuplicateUnit.
func (r *Registry) RegisterUnit(u Unit) error {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return fmt.Errorf("register unit: name is empty")
	}
	if u.Run == nil {
		return fmt.Errorf("register unit %q: run function is nil", u.Name)
	}
	if u.Trigger.Kind != TriggerInterval && u.Trigger.Kind != TriggerEvent {
		return fmt.Errorf("register unit %q: trigger kind %q is invalid", u.Name, u.Trigger.Kind)
	}

	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		return fmt.Errorf("register unit %q: %w", u.Name, ErrSealed)
	}
	if _, exists := r.units[u.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("register unit %q: %w", u.Name, ErrDuplicateUnit)
	}
	r.units[u.Name] = u
	r.order = append(r.order, u.Name)
	r.mu.Unlock()

	r.setStatus(u.Name, StatePending, "", nil)
	return nil
}

// Seal freezes the unit set.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup returns the unit with name.
func (r *Registry) Lookup(name string) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[name]
	return u, ok
}

// Units returns all units in registration order.
func (r *Registry) Units() []Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Unit, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.units[name])
	}
	return out
}

// ReconcileResult summarizes one reconciliation.
type ReconcileResult struct {
	Kept    []Registration `json:"kept"`
	Removed []Registration `json:"removed"`
}

// Reconcile seals the registry and aligns host registrations with it. Host
// registrations for unknown units, duplicates, and registrations whose trigger
// no longer matches the unit are unregistered. Surviving registrations are
// recorded as active without touching the host.
func (r *Registry) Reconcile(ctx context.Context) (ReconcileResult, error) {
	r.Seal()

	var res ReconcileResult
	regs, err := r.host.Registrations(ctx)
	if err != nil {
		return res, fmt.Errorf("list host registrations: %w", err)
	}

	kept := make(map[string]bool)
	var errs []error
	for _, reg := range regs {
		unit, known := r.Lookup(reg.Name)
		reason := ""
		switch {
		case !known:
			reason = "orphan"
		case kept[reg.Name]:
			reason = "duplicate"
		case reg.Fingerprint != unit.Trigger.Fingerprint():
			reason = "trigger changed"
		}

		if reason == "" {
			kept[reg.Name] = true
			res.Kept = append(res.Kept, reg)
			r.setStatus(reg.Name, StateActive, reg.ID, nil)
			continue
		}

		if err := r.host.Unregister(ctx, reg.ID); err != nil {
			r.logger.Error("failed to remove stale registration", "unit", reg.Name, "registration_id", reg.ID, "reason", reason, "error", err)
			errs = append(errs, fmt.Errorf("unregister %s (%s): %w", reg.Name, reg.ID, err))
			continue
		}
		res.Removed = append(res.Removed, reg)
		r.logger.Info("removed stale registration", "unit", reg.Name, "registration_id", reg.ID, "reason", reason)
		r.pub.Publish(events.UnitOrphanRemoved, map[string]string{
			"unit":            reg.Name,
			"registration_id": reg.ID,
			"reason":          reason,
		})
	}
	return res, errors.Join(errs...)
}

// EnsureRegistered makes sure the named unit has a host registration. An
// existing registration is reused unless force is set, in which case it is
// removed and registered again. Host denial or failure marks the unit
// inactive and reports false; the error return is reserved for unknown units.
func (r *Registry) EnsureRegistered(ctx context.Context, name string, force bool) (bool, error) {
	unit, ok := r.Lookup(name)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownUnit, name)
	}
	logger := r.logger.With("unit", name)

	if !force {
		if st, ok := r.Status(name); ok && st.State == StateActive && st.RegistrationID != "" {
			return true, nil
		}
	}

	existing, err := r.hostRegistrations(ctx, name)
	if err != nil {
		r.markInactive(logger, name, err)
		return false, nil
	}
	if !force {
		for _, reg := range existing {
			if reg.Fingerprint == unit.Trigger.Fingerprint() {
				r.setStatus(name, StateActive, reg.ID, nil)
				return true, nil
			}
		}
	}
	for _, reg := range existing {
		if err := r.host.Unregister(ctx, reg.ID); err != nil {
			r.markInactive(logger, name, fmt.Errorf("unregister before re-register: %w", err))
			return false, nil
		}
		r.pub.Publish(events.UnitUnregistered, map[string]string{"unit": name, "registration_id": reg.ID})
	}

	access, err := r.host.RequestAccess(ctx)
	if err != nil {
		r.markInactive(logger, name, fmt.Errorf("request access: %w", err))
		return false, nil
	}
	if access != AccessGranted {
		r.markInactive(logger, name, &RegistrationDeniedError{Unit: name, Access: access})
		return false, nil
	}

	reg, err := r.host.Register(ctx, name, unit.Trigger, unit.RequiresNetwork)
	if err != nil {
		r.markInactive(logger, name, fmt.Errorf("register: %w", err))
		return false, nil
	}

	r.setStatus(name, StateActive, reg.ID, nil)
	logger.Info("unit registered", "registration_id", reg.ID, "trigger", reg.Trigger)
	r.pub.Publish(events.UnitRegistered, map[string]string{
		"unit":            name,
		"registration_id": reg.ID,
		"trigger":         reg.Trigger,
	})
	return true, nil
}

// Unregister removes every host registration for the named unit.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	if _, ok := r.Lookup(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownUnit, name)
	}
	regs, err := r.hostRegistrations(ctx, name)
	if err != nil {
		return err
	}
	for _, reg := range regs {
		if err := r.host.Unregister(ctx, reg.ID); err != nil {
			return fmt.Errorf("unregister %s (%s): %w", name, reg.ID, err)
		}
		r.pub.Publish(events.UnitUnregistered, map[string]string{"unit": name, "registration_id": reg.ID})
	}
	r.setStatus(name, StateUnregistered, "", nil)
	r.logger.Info("unit unregistered", "unit", name, "registrations", len(regs))
	return nil
}

// Start reconciles and then ensures every unit is registered.
func (r *Registry) Start(ctx context.Context, force bool) error {
	if _, err := r.Reconcile(ctx); err != nil {
		r.logger.Warn("reconcile finished with errors", "error", err)
	}
	active := 0
	for _, u := range r.Units() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok, err := r.EnsureRegistered(ctx, u.Name, force)
		if err != nil {
			return err
		}
		if ok {
			active++
		}
	}
	r.logger.Info("background units started", "active", active, "force", force)
	return nil
}

// Status returns the named unit's status.
func (r *Registry) Status(name string) (Status, bool) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	st, ok := r.status[name]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// Statuses returns every unit's status in registration order.
func (r *Registry) Statuses() []Status {
	units := r.Units()

	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	out := make([]Status, 0, len(units))
	for _, u := range units {
		if st, ok := r.status[u.Name]; ok {
			out = append(out, *st)
		}
	}
	return out
}

// MarkUnregistered records that the host dropped the unit's registration,
// as happens after a one-shot trigger fires.
func (r *Registry) MarkUnregistered(name string) {
	if _, ok := r.Lookup(name); ok {
		r.setStatus(name, StateUnregistered, "", nil)
	}
}

func (r *Registry) hostRegistrations(ctx context.Context, name string) ([]Registration, error) {
	regs, err := r.host.Registrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list host registrations: %w", err)
	}
	var out []Registration
	for _, reg := range regs {
		if reg.Name == name {
			out = append(out, reg)
		}
	}
	return out, nil
}

func (r *Registry) markInactive(logger *slog.Logger, name string, cause error) {
	r.setStatus(name, StateInactive, "", cause)
	logger.Warn("unit inactive", "error", cause)
	r.pub.Publish(events.UnitInactive, map[string]string{"unit": name, "error": cause.Error()})
}

func (r *Registry) setStatus(name string, state State, registrationID string, cause error) {
	unit, known := r.Lookup(name)

	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	st, ok := r.status[name]
	if !ok {
		st = &Status{Name: name}
		r.status[name] = st
	}
	if known {
		st.Trigger = unit.Trigger.String()
	}
	st.State = state
	st.RegistrationID = registrationID
	st.Error = ""
	if cause != nil {
		st.Error = cause.Error()
	}
	st.UpdatedAt = r.now()
}
