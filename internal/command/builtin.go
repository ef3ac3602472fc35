package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/protocol"
)

// NewHelp returns the help command. It lists every described handler in reg,
// itself included, as "<DisplayName> (<command>): <Summary>".
func NewHelp(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		DisplayName: "Help",
		Summary:     "Lists the commands this host accepts.",
		Run: func(ctx context.Context, req *protocol.Request) (any, error) {
			descs := reg.Descriptions()
			lines := make([]string, 0, len(descs))
			for _, d := range descs {
				lines = append(lines, d.String())
			}
			return lines, nil
		},
	}
}

// ScopeRequester queues scope requests for approval.
type ScopeRequester interface {
	RequestScopes(ctx context.Context, identity string, scopes []string) (auth.PendingRequest, error)
}

// NewAuth returns the auth command. The caller asks for the scopes in
// Input_scopes; the reply is the pending request id. Nothing is granted until
// an operator approves.
func NewAuth(requester ScopeRequester) *Command {
	return &Command{
		Name:        "auth",
		DisplayName: "Authorize",
		Summary:     "Requests scopes for the calling package; an operator must approve.",
		Run: func(ctx context.Context, req *protocol.Request) (any, error) {
			raw, ok := req.Param("scopes")
			if !ok {
				return nil, fmt.Errorf("missing parameter: scopes")
			}
			scopes, err := StringList(raw)
			if err != nil {
				return nil, fmt.Errorf("parameter scopes: %w", err)
			}
			pending, err := requester.RequestScopes(ctx, req.Package, scopes)
			if err != nil {
				return nil, err
			}
			return pending.ID, nil
		},
	}
}

// StringList accepts a comma or space separated string, or a list of strings.
func StringList(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' }), nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, want string", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}
