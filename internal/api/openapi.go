package api

import (
	"net/http"
	"strconv"

	"github.com/mattjoyce/courier/internal/command"
)

// handleOpenAPI serves GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	var descs []command.Description
	if s.deps.Commands != nil {
		descs = s.deps.Commands.Descriptions()
	}
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(descs))
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the HTTP surface. The
// commands reachable through /message are listed under x-commands.
func buildOpenAPIDoc(descs []command.Description) map[string]any {
	commands := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		commands = append(commands, map[string]any{
			"name":         d.Name,
			"display_name": d.DisplayName,
			"summary":      d.Summary,
		})
	}

	secured := []any{map[string]any{"BearerAuth": []string{}}}
	op := func(summary string, codes ...int) map[string]any {
		rs := map[string]any{}
		for _, code := range codes {
			rs[strconv.Itoa(code)] = map[string]any{"description": http.StatusText(code)}
		}
		return map[string]any{"summary": summary, "responses": rs, "security": secured}
	}

	paths := map[string]any{
		"/healthz": map[string]any{"get": map[string]any{
			"summary":   "Liveness and counts",
			"responses": map[string]any{"200": map[string]any{"description": "OK"}},
		}},
		"/message": map[string]any{"post": func() map[string]any {
			m := op("Send one request message and receive its response message", 200, 400, 401, 403, 415, 503)
			m["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{},
					"application/cbor": map[string]any{},
				},
			}
			return m
		}()},
		"/trigger/{event}":             map[string]any{"post": op("Fire a named host event", 202, 401, 403)},
		"/grants/pending":              map[string]any{"get": op("List pending grant requests", 200, 401, 403)},
		"/grants/pending/{id}/approve": map[string]any{"post": op("Approve a pending grant request", 200, 404, 409)},
		"/grants/pending/{id}/deny":    map[string]any{"post": op("Deny a pending grant request", 200, 404, 409)},
		"/grants/{identity}":           map[string]any{"get": op("Show granted scopes", 200, 401, 403)},
		"/grants/{identity}/revoke":    map[string]any{"post": op("Revoke granted scopes", 200, 400, 401, 403)},
		"/units":                       map[string]any{"get": op("List background units", 200, 401, 403)},
		"/units/reconcile":             map[string]any{"post": op("Reconcile host registrations", 200, 207, 401, 403)},
		"/activations":                 map[string]any{"get": op("List recent activations", 200, 400, 401, 403)},
		"/events":                      map[string]any{"get": op("Server-sent event stream", 200, 401, 403)},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "courier",
			"version": "1.0",
		},
		"paths":      paths,
		"x-commands": commands,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
