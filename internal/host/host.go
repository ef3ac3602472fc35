// Package host keeps background registrations in sqlite and answers access
// requests from a configured policy.
package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/courier/internal/background"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/storage"
)

// AccessPolicy decides RequestAccess answers.
type AccessPolicy string

const (
	PolicyAllowed        AccessPolicy = "allowed"
	PolicyDenied         AccessPolicy = "denied"
	PolicyDeniedByPolicy AccessPolicy = "denied_by_policy"
)

// ParsePolicy validates a config value; empty means allowed.
func ParsePolicy(s string) (AccessPolicy, error) {
	switch p := AccessPolicy(s); p {
	case "":
		return PolicyAllowed, nil
	case PolicyAllowed, PolicyDenied, PolicyDeniedByPolicy:
		return p, nil
	default:
		return "", fmt.Errorf("unknown host access policy %q", s)
	}
}

// Store is a sqlite-backed background.Host.
type Store struct {
	db     *sql.DB
	policy AccessPolicy
	logger *slog.Logger
	now    func() time.Time
}

func New(db *sql.DB, policy AccessPolicy) *Store {
	if policy == "" {
		policy = PolicyAllowed
	}
	return &Store{
		db:     db,
		policy: policy,
		logger: log.WithComponent("host"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ background.Host = (*Store)(nil)

func (s *Store) RequestAccess(ctx context.Context) (background.Access, error) {
	switch s.policy {
	case PolicyDenied:
		return background.AccessDenied, nil
	case PolicyDeniedByPolicy:
		return background.AccessDeniedByPolicy, nil
	default:
		return background.AccessGranted, nil
	}
}

func (s *Store) Register(ctx context.Context, name string, trigger background.Trigger, requiresNetwork bool) (background.Registration, error) {
	reg := background.Registration{
		ID:              uuid.NewString(),
		Name:            name,
		Trigger:         trigger.String(),
		Fingerprint:     trigger.Fingerprint(),
		RequiresNetwork: requiresNetwork,
		RegisteredAt:    s.now(),
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO background_registrations(id, name, trigger, fingerprint, requires_network, registered_at)
VALUES(?, ?, ?, ?, ?, ?);
`, reg.ID, reg.Name, reg.Trigger, reg.Fingerprint, boolToInt(requiresNetwork), reg.RegisteredAt.Format(storage.TimeLayout))
	if err != nil {
		return background.Registration{}, fmt.Errorf("insert registration: %w", err)
	}
	s.logger.Debug("registration created", "registration_id", reg.ID, "unit", name, "trigger", reg.Trigger)
	return reg, nil
}

// Unregister deletes a registration. Unknown ids are ignored.
func (s *Store) Unregister(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM background_registrations WHERE id = ?;", id); err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return nil
}

// Registrations lists all registrations, oldest first.
func (s *Store) Registrations(ctx context.Context) ([]background.Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, trigger, fingerprint, requires_network, registered_at, last_fired_at
FROM background_registrations
ORDER BY registered_at ASC, id ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()

	var out []background.Registration
	for rows.Next() {
		var (
			reg          background.Registration
			network      int
			registeredAt string
			lastFired    sql.NullString
		)
		if err := rows.Scan(&reg.ID, &reg.Name, &reg.Trigger, &reg.Fingerprint, &network, &registeredAt, &lastFired); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		reg.RequiresNetwork = network != 0
		if reg.RegisteredAt, err = time.Parse(storage.TimeLayout, registeredAt); err != nil {
			return nil, fmt.Errorf("parse registered_at for %s: %w", reg.ID, err)
		}
		if lastFired.Valid {
			t, err := time.Parse(storage.TimeLayout, lastFired.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_fired_at for %s: %w", reg.ID, err)
			}
			reg.LastFiredAt = &t
		}
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return out, nil
}

// ErrNotFound is returned by MarkFired for an unknown registration.
var ErrNotFound = errors.New("registration not found")

// MarkFired records when a registration last fired.
func (s *Store) MarkFired(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE background_registrations SET last_fired_at = ? WHERE id = ?;",
		at.UTC().Format(storage.TimeLayout), id)
	if err != nil {
		return fmt.Errorf("update last_fired_at: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
