package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/storage"
)

// ErrInvalidOperation is returned when approve/deny names a request that is
// not currently pending.
var ErrInvalidOperation = errors.New("invalid operation")

// PendingRequest is a scope request awaiting approval.
type PendingRequest struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	Scopes      []string  `json:"scopes"`
	RequestedAt time.Time `json:"requested_at"`
}

// Provider stores scope grants per caller identity and queues requests for
// approval. Every mutation runs inside one writer section.
type Provider struct {
	db     *sql.DB
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending []PendingRequest
}

func NewProvider(db *sql.DB, pub events.Publisher) *Provider {
	return &Provider{
		db:     db,
		pub:    events.OrDiscard(pub),
		logger: log.WithComponent("auth"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetScopes returns the identity's granted scopes, sorted.
func (p *Provider) GetScopes(ctx context.Context, identity string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT scope FROM scope_grants WHERE identity = ? ORDER BY scope;", identity)
	if err != nil {
		return nil, fmt.Errorf("query scopes: %w", err)
	}
	defer rows.Close()

	scopes := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scopes: %w", err)
	}
	return scopes, nil
}

// RequestScopes queues a pending request without granting anything. An
// identical request already pending is returned as-is.
func (p *Provider) RequestScopes(ctx context.Context, identity string, scopes []string) (PendingRequest, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return PendingRequest{}, fmt.Errorf("identity is empty")
	}
	norm := NormalizeScopeList(scopes)
	if len(norm) == 0 {
		return PendingRequest{}, fmt.Errorf("no scopes requested")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, req := range p.pending {
		if req.Identity == identity && slices.Equal(req.Scopes, norm) {
			return clonePending(req), nil
		}
	}

	req := PendingRequest{
		ID:          uuid.NewString(),
		Identity:    identity,
		Scopes:      norm,
		RequestedAt: p.now(),
	}
	p.pending = append(p.pending, req)

	p.logger.Info("scope request queued", "request_id", req.ID, "identity", identity, "scopes", norm)
	p.pub.Publish(events.GrantsRequested, req)
	return clonePending(req), nil
}

// ApproveRequest grants the request's scopes and removes it from the queue.
func (p *Provider) ApproveRequest(ctx context.Context, req PendingRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.indexLocked(req.ID)
	if idx < 0 {
		return fmt.Errorf("%w: request %q is not pending", ErrInvalidOperation, req.ID)
	}
	stored := p.pending[idx]

	if err := p.grantLocked(ctx, stored.Identity, stored.Scopes); err != nil {
		return err
	}
	p.pending = slices.Delete(p.pending, idx, idx+1)

	p.logger.Info("scope request approved", "request_id", stored.ID, "identity", stored.Identity, "scopes", stored.Scopes)
	p.pub.Publish(events.GrantsApproved, stored)
	return nil
}

// DenyRequest drops a pending request without granting.
func (p *Provider) DenyRequest(ctx context.Context, req PendingRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.indexLocked(req.ID)
	if idx < 0 {
		return fmt.Errorf("%w: request %q is not pending", ErrInvalidOperation, req.ID)
	}
	stored := p.pending[idx]
	p.pending = slices.Delete(p.pending, idx, idx+1)

	p.logger.Info("scope request denied", "request_id", stored.ID, "identity", stored.Identity)
	p.pub.Publish(events.GrantsDenied, stored)
	return nil
}

// RemoveScopes revokes scopes from identity. Scopes that were never granted
// are ignored.
func (p *Provider) RemoveScopes(ctx context.Context, identity string, scopes []string) error {
	norm := NormalizeScopeList(scopes)
	if len(norm) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var removed int64
	for _, s := range norm {
		res, err := tx.ExecContext(ctx, "DELETE FROM scope_grants WHERE identity = ? AND scope = ?;", identity, s)
		if err != nil {
			return fmt.Errorf("delete scope %q: %w", s, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	if removed > 0 {
		p.logger.Info("scopes revoked", "identity", identity, "scopes", norm)
		p.pub.Publish(events.GrantsRevoked, map[string]any{"identity": identity, "scopes": norm})
	}
	return nil
}

// Grant adds scopes directly, bypassing the pending queue. Used to seed
// trusted identities from config at startup.
func (p *Provider) Grant(ctx context.Context, identity string, scopes []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grantLocked(ctx, identity, NormalizeScopeList(scopes))
}

// Pending returns a snapshot of the queue in arrival order.
func (p *Provider) Pending() []PendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PendingRequest, 0, len(p.pending))
	for _, req := range p.pending {
		out = append(out, clonePending(req))
	}
	return out
}

// PendingByID finds a queued request.
func (p *Provider) PendingByID(id string) (PendingRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.indexLocked(id)
	if idx < 0 {
		return PendingRequest{}, false
	}
	return clonePending(p.pending[idx]), true
}

func (p *Provider) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(p.pending, func(r PendingRequest) bool { return r.ID == id })
}

func (p *Provider) grantLocked(ctx context.Context, identity string, scopes []string) error {
	if identity == "" {
		return fmt.Errorf("identity is empty")
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := p.now().Format(storage.TimeLayout)
	for _, s := range scopes {
		_, err := tx.ExecContext(ctx, `
INSERT INTO scope_grants(identity, scope, granted_at)
VALUES(?, ?, ?)
ON CONFLICT(identity, scope) DO NOTHING;
`, identity, s, now)
		if err != nil {
			return fmt.Errorf("insert scope %q: %w", s, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// NormalizeScopeList trims, dedupes and sorts scope names.
func NormalizeScopeList(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func clonePending(r PendingRequest) PendingRequest {
	r.Scopes = slices.Clone(r.Scopes)
	return r
}
