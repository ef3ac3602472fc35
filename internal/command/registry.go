package command

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/protocol"
)

type entry struct {
	handler Handler
	name    string // lowercased; empty when the handler is not Named
}

// Registry dispatches each request to the first registered handler that
// claims it.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	byName  map[string]int // first entry index per name
	logger  *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]int),
		logger: log.WithComponent("command"),
	}
}

// Register appends h. Registration order decides ties.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("register: handler is nil")
	}

	var name string
	if n, ok := h.(Named); ok {
		name = strings.ToLower(strings.TrimSpace(n.CommandName()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry{handler: h, name: name})
	if name != "" {
		if _, exists := r.byName[name]; exists {
			r.logger.Warn("command name registered twice; first registration wins", "command", name)
		} else {
			r.byName[name] = len(r.entries) - 1
		}
	}
	return nil
}

// MustRegister registers each handler and panics on error. For startup wiring.
func (r *Registry) MustRegister(hs ...Handler) {
	for _, h := range hs {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
}

// Descriptions lists every Describer in registration order.
func (r *Registry) Descriptions() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Description, 0, len(r.entries))
	for _, e := range r.entries {
		d, ok := e.handler.(Describer)
		if !ok {
			continue
		}
		if desc := d.Describe(); desc.Name != "" {
			out = append(out, desc)
		}
	}
	return out
}

// Lookup returns the handler that would serve req, if any.
func (r *Registry) Lookup(req *protocol.Request) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selectLocked(req)
}

// selectLocked finds the first claiming handler. A named match found in the
// map is used only when no earlier unnamed handler claims the request.
func (r *Registry) selectLocked(req *protocol.Request) (Handler, bool) {
	limit := len(r.entries)
	idx, named := r.byName[strings.ToLower(req.Command)]
	if named {
		limit = idx
	}

	for _, e := range r.entries[:limit] {
		if e.name != "" {
			continue
		}
		if e.handler.CanHandle(req) {
			return e.handler, true
		}
	}
	if named {
		return r.entries[idx].handler, true
	}
	return nil, false
}

// Dispatch routes req and always returns a well-formed response stamped with
// the current protocol version. Handler panics are converted to failures.
func (r *Registry) Dispatch(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	logger := r.logger.With("command", req.Command, "identity", req.Package)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("handler panicked", "panic", rec, "stack", string(debug.Stack()))
			resp = protocol.Fail(fmt.Sprintf("%v: %v", ErrHandlerFault, rec))
		}
		stamped := *resp
		stamped.Version = protocol.Version
		resp = &stamped
	}()

	h, ok := r.Lookup(req)
	if !ok {
		logger.Info("no handler claimed request")
		return protocol.Fail(fmt.Sprintf("%v: %q", ErrUnrecognizedCommand, req.Command))
	}

	resp = h.Execute(ctx, req)
	if resp == nil {
		logger.Error("handler returned no response")
		return protocol.Fail(fmt.Sprintf("%v: handler returned no response", ErrHandlerFault))
	}
	if !resp.Success {
		logger.Debug("command failed", "error", resp.Error)
	}
	return resp
}
