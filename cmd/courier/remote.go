package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/courier/internal/client"
	"github.com/mattjoyce/courier/internal/protocol"
	"github.com/mattjoyce/courier/internal/tui/review"
)

const defaultURL = "http://127.0.0.1:8080"

// remoteFlags are shared by every command that talks to a running host.
type remoteFlags struct {
	url   string
	token string
}

func (r *remoteFlags) bind(fs *flag.FlagSet) {
	url := os.Getenv("COURIER_URL")
	if url == "" {
		url = defaultURL
	}
	fs.StringVar(&r.url, "url", url, "Host API URL")
	fs.StringVar(&r.token, "token", os.Getenv("COURIER_TOKEN"), "Bearer token")
}

func (r *remoteFlags) client(opts ...client.Option) (*client.Client, error) {
	if r.token == "" {
		return nil, errors.New("token required: use --token or COURIER_TOKEN")
	}
	return client.New(r.url, r.token, opts...), nil
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

func runCall(args []string) int {
	var remote remoteFlags
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	remote.bind(fs)
	pkg := fs.String("package", envOr("COURIER_PACKAGE", "courier.cli"), "Caller identity sent as Package; must match the token")
	useCBOR := fs.Bool("cbor", false, "Use CBOR framing")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() < 1 {
		printCallHelp()
		return 1
	}

	params, err := parseParams(fs.Args()[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var opts []client.Option
	if *useCBOR {
		opts = append(opts, client.WithCBOR())
	}
	c, err := remote.client(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	resp, err := c.Call(ctx, &protocol.Request{
		Command:    fs.Arg(0),
		Version:    protocol.Version,
		Package:    *pkg,
		Parameters: params,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "Failed: %s\n", resp.Error)
		return 1
	}
	if resp.Result == nil {
		return 0
	}
	return printJSON(resp.Result)
}

// parseParams turns name=value pairs into request parameters. Values that
// decode as JSON keep their type.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q is not name=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		params[name] = v
	}
	return params, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runGrantsNoun(args []string) int {
	if len(args) < 1 {
		printGrantsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printGrantsNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	var remote remoteFlags
	fs := flag.NewFlagSet("grants "+action, flag.ContinueOnError)
	remote.bind(fs)
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	want := map[string]int{"pending": 0, "approve": 1, "deny": 1, "show": 1}
	if n, ok := want[action]; ok && fs.NArg() != n {
		printGrantsNounHelp(os.Stderr)
		return 1
	}
	if action == "revoke" && fs.NArg() < 2 {
		printGrantsNounHelp(os.Stderr)
		return 1
	}

	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := requestContext()
	defer cancel()

	switch action {
	case "pending":
		reqs, err := c.Pending(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if *jsonOut {
			return printJSON(reqs)
		}
		if len(reqs) == 0 {
			fmt.Println("No pending scope requests.")
			return 0
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tIDENTITY\tSCOPES\tREQUESTED")
		for _, r := range reqs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Identity, strings.Join(r.Scopes, ","), r.RequestedAt.Format(time.RFC3339))
		}
		_ = tw.Flush()
		return 0
	case "approve", "deny":
		decide := c.Approve
		if action == "deny" {
			decide = c.Deny
		}
		req, err := decide(ctx, fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if *jsonOut {
			return printJSON(req)
		}
		fmt.Printf("%s: %s %s\n", action, req.Identity, strings.Join(req.Scopes, ","))
		return 0
	case "show":
		scopes, err := c.Grants(ctx, fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return printScopes(fs.Arg(0), scopes, *jsonOut)
	case "revoke":
		scopes, err := c.Revoke(ctx, fs.Arg(0), fs.Args()[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return printScopes(fs.Arg(0), scopes, *jsonOut)
	default:
		fmt.Fprintf(os.Stderr, "Unknown grants action: %s\n", action)
		return 1
	}
}

func printScopes(identity string, scopes []string, jsonOut bool) int {
	if jsonOut {
		return printJSON(map[string]any{"identity": identity, "scopes": scopes})
	}
	if len(scopes) == 0 {
		fmt.Printf("%s has no granted scopes\n", identity)
		return 0
	}
	fmt.Printf("%s: %s\n", identity, strings.Join(scopes, ", "))
	return 0
}

func runUnitsNoun(args []string) int {
	if len(args) < 1 {
		printUnitsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printUnitsNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	var remote remoteFlags
	fs := flag.NewFlagSet("units "+action, flag.ContinueOnError)
	remote.bind(fs)
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := requestContext()
	defer cancel()

	switch action {
	case "list":
		units, err := c.Units(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if *jsonOut {
			return printJSON(units)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "UNIT\tTRIGGER\tSTATE\tREGISTRATION\tERROR")
		for _, u := range units {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.Name, u.Trigger, u.State, u.RegistrationID, u.Error)
		}
		_ = tw.Flush()
		return 0
	case "reconcile":
		res, err := c.Reconcile(ctx)
		if *jsonOut {
			code := printJSON(res)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			return code
		}
		fmt.Printf("kept %d, removed %d\n", len(res.Kept), len(res.Removed))
		for _, r := range res.Removed {
			fmt.Printf("  removed %s (%s)\n", r.Name, r.ID)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	case "trigger":
		if fs.NArg() != 1 {
			printUnitsNounHelp(os.Stderr)
			return 1
		}
		n, err := c.Trigger(ctx, fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("event %s fired %d unit(s)\n", fs.Arg(0), n)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown units action: %s\n", action)
		return 1
	}
}

func runActivations(args []string) int {
	var remote remoteFlags
	fs := flag.NewFlagSet("activations", flag.ContinueOnError)
	remote.bind(fs)
	limit := fs.Int("limit", 20, "Number of activations to show")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := requestContext()
	defer cancel()

	entries, err := c.Activations(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(entries)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tKIND\tNAME\tIDENTITY\tSTATUS\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.StartedAt.Format(time.RFC3339), e.Kind, e.Name, e.Identity, e.Status, e.Error)
	}
	_ = tw.Flush()
	return 0
}

func runReview(args []string) int {
	var remote remoteFlags
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	remote.bind(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	c, err := remote.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := review.Run(context.Background(), c); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func printGrantsNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: courier grants <action> [--url URL] [--token TOKEN] [--json]")
	fmt.Fprintln(w, "Actions: pending, approve <id>, deny <id>, show <identity>, revoke <identity> <scope>...")
}

func printUnitsNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: courier units <action> [--url URL] [--token TOKEN] [--json]")
	fmt.Fprintln(w, "Actions: list, reconcile, trigger <event>")
}
