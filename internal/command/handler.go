// Package command holds the command registry and dispatcher that routes
// decoded requests to exactly one handler.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/courier/internal/protocol"
)

var (
	ErrUnrecognizedCommand = errors.New("unrecognized command")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrHandlerFault        = errors.New("handler fault")
)

// DeniedError names the scopes a caller was missing.
type DeniedError struct {
	Identity string
	Missing  []string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("authorization denied for %q: missing scopes %s", e.Identity, strings.Join(e.Missing, ", "))
}

func (e *DeniedError) Is(target error) bool { return target == ErrAuthorizationDenied }

// Handler claims and executes requests.
type Handler interface {
	CanHandle(req *protocol.Request) bool
	Execute(ctx context.Context, req *protocol.Request) *protocol.Response
}

// Named handlers answer to one fixed command name. Their CanHandle must be
// equivalent to a case-insensitive comparison against that name; the
// registry relies on this to skip them in the scan.
type Named interface {
	CommandName() string
}

// Describer handlers are listed by help.
type Describer interface {
	Describe() Description
}

// Description is one help entry.
type Description struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Summary     string `json:"summary"`
}

func (d Description) String() string {
	return fmt.Sprintf("%s (%s): %s", d.DisplayName, d.Name, d.Summary)
}

// RunFunc produces a command result. A returned error becomes a failed
// response carrying the error text.
type RunFunc func(ctx context.Context, req *protocol.Request) (any, error)

// Command is a plain named handler.
type Command struct {
	Name        string
	DisplayName string
	Summary     string
	Run         RunFunc
}

func (c *Command) CommandName() string { return c.Name }

func (c *Command) CanHandle(req *protocol.Request) bool {
	return req != nil && strings.EqualFold(req.Command, c.Name)
}

func (c *Command) Execute(ctx context.Context, req *protocol.Request) *protocol.Response {
	result, err := c.Run(ctx, req)
	if err != nil {
		return protocol.Fail(err.Error())
	}
	return protocol.OK(result)
}

func (c *Command) Describe() Description {
	display := c.DisplayName
	if display == "" {
		display = c.Name
	}
	return Description{Name: c.Name, DisplayName: display, Summary: c.Summary}
}
