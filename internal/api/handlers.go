package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/journal"
	"github.com/mattjoyce/courier/internal/protocol"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Commands != nil {
		resp.Commands = len(s.deps.Commands.Descriptions())
	}
	if s.deps.Units != nil {
		resp.Units = len(s.deps.Units.Statuses())
	}
	if s.deps.Grants != nil {
		resp.PendingGrants = len(s.deps.Grants.Pending())
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleMessage handles POST /message: one request in, one response out, in
// the content type the caller used.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	contentType, err := protocol.NormalizeContentType(r.Header.Get("Content-Type"))
	if err != nil {
		s.writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	msg, err := protocol.ReadMessage(http.MaxBytesReader(w, r.Body, s.config.MaxMessageBytes), contentType)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The token vouches for the caller; a message may not claim another package.
	principal, _ := auth.PrincipalFromContext(r.Context())
	if pkg, ok := msg[protocol.KeyPackage].(string); ok && pkg != principal.Identity {
		s.writeError(w, http.StatusForbidden, "package does not match token identity")
		return
	}

	d, err := s.deps.Tokens.Acquire()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	reply, err := s.deps.Messages.HandleMessage(r.Context(), msg, d)
	if errors.Is(err, protocol.ErrEmptyMessage) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("message activation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "message activation failed")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if err := protocol.WriteMessage(w, contentType, reply); err != nil {
		s.logger.Warn("failed to write reply", "error", err)
	}
}

// handleTrigger handles POST /trigger/{event}.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		s.writeError(w, http.StatusNotImplemented, "event triggers are not available")
		return
	}
	event := chi.URLParam(r, "event")
	n, err := s.deps.Events.FireEvent(r.Context(), event)
	if err != nil {
		s.logger.Error("failed to fire event", "event", event, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to fire event")
		return
	}
	respondJSON(w, http.StatusAccepted, TriggerResponse{Event: event, Fired: n})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	if !s.haveGrants(w) {
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Grants.Pending())
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, true)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, false)
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	if !s.haveGrants(w) {
		return
	}
	id := chi.URLParam(r, "id")
	req, ok := s.deps.Grants.PendingByID(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "pending request not found")
		return
	}

	var err error
	if approve {
		err = s.deps.Grants.ApproveRequest(r.Context(), req)
	} else {
		err = s.deps.Grants.DenyRequest(r.Context(), req)
	}
	switch {
	case errors.Is(err, auth.ErrInvalidOperation):
		// Decided by someone else between the lookup and now.
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to decide pending request", "id", id, "approve", approve, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to decide pending request")
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	s.logger.Info("pending request decided", "id", id, "identity", req.Identity, "approve", approve, "by", principal.Identity)
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) handleGetGrants(w http.ResponseWriter, r *http.Request) {
	if !s.haveGrants(w) {
		return
	}
	identity := chi.URLParam(r, "identity")
	scopes, err := s.deps.Grants.GetScopes(r.Context(), identity)
	if err != nil {
		s.logger.Error("failed to read grants", "identity", identity, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read grants")
		return
	}
	respondJSON(w, http.StatusOK, GrantsResponse{Identity: identity, Scopes: scopes})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if !s.haveGrants(w) {
		return
	}
	identity := chi.URLParam(r, "identity")

	var req ScopesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Scopes) == 0 {
		s.writeError(w, http.StatusBadRequest, "scopes must be non-empty")
		return
	}

	if err := s.deps.Grants.RemoveScopes(r.Context(), identity, req.Scopes); err != nil {
		s.logger.Error("failed to revoke grants", "identity", identity, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to revoke grants")
		return
	}

	scopes, err := s.deps.Grants.GetScopes(r.Context(), identity)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read grants")
		return
	}
	respondJSON(w, http.StatusOK, GrantsResponse{Identity: identity, Scopes: scopes})
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	if s.deps.Units == nil {
		s.writeError(w, http.StatusNotImplemented, "background units are not available")
		return
	}
	respondJSON(w, http.StatusOK, UnitsResponse{Units: s.deps.Units.Statuses()})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Units == nil {
		s.writeError(w, http.StatusNotImplemented, "background units are not available")
		return
	}
	res, err := s.deps.Units.Reconcile(r.Context())
	if err != nil {
		// Partial results are still meaningful; report both.
		s.logger.Warn("reconcile finished with errors", "error", err)
		respondJSON(w, http.StatusMultiStatus, map[string]any{"result": res, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListActivations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Activations == nil {
		s.writeError(w, http.StatusNotImplemented, "activation log is not available")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.deps.Activations.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list activations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list activations")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) haveGrants(w http.ResponseWriter) bool {
	if s.deps.Grants == nil {
		s.writeError(w, http.StatusNotImplemented, "grant administration is not available")
		return false
	}
	return true
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
