package api

import (
	"github.com/mattjoyce/courier/internal/background"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Commands      int    `json:"commands"`
	Units         int    `json:"units"`
	PendingGrants int    `json:"pending_grants"`
}

// TriggerResponse is returned by POST /trigger/{event}.
type TriggerResponse struct {
	Event string `json:"event"`
	Fired int    `json:"fired"`
}

// ScopesRequest is the body of POST /grants/{identity}/revoke.
type ScopesRequest struct {
	Scopes []string `json:"scopes"`
}

// GrantsResponse is returned by GET /grants/{identity}.
type GrantsResponse struct {
	Identity string   `json:"identity"`
	Scopes   []string `json:"scopes"`
}

// UnitsResponse is returned by GET /units.
type UnitsResponse struct {
	Units []background.Status `json:"units"`
}
