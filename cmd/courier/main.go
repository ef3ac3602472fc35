package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		if hasHelpFlag(args) {
			printStartHelp()
			return 0
		}
		return runStart(args)
	case "call":
		if hasHelpFlag(args) {
			printCallHelp()
			return 0
		}
		return runCall(args)
	case "grants":
		return runGrantsNoun(args)
	case "units":
		return runUnitsNoun(args)
	case "activations":
		if hasHelpFlag(args) {
			printActivationsHelp()
			return 0
		}
		return runActivations(args)
	case "review":
		if hasHelpFlag(args) {
			printReviewHelp()
			return 0
		}
		return runReview(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: courier version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("courier %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `courier - command host for caller-identified packages

Usage:
  courier <command> [flags]

Host:
  start                    Run the host in the foreground

Callers:
  call <command> [k=v...]  Send one command to a running host

Operators:
  grants pending           List scope requests awaiting approval
  grants approve <id>      Approve a pending request
  grants deny <id>         Deny a pending request
  grants show <identity>   Show an identity's granted scopes
  grants revoke <identity> <scope>...
                           Remove scopes from an identity
  review                   Interactive approval screen
  units list               Show background unit status
  units reconcile          Drop registrations no unit owns
  units trigger <event>    Fire a named host event
  activations              Show recent activations

Config:
  config lock              Record config file hashes
  config check             Validate configuration

General:
  version [--json]         Show version information
  help                     Show this help message

Remote commands read --url/--token or COURIER_URL/COURIER_TOKEN.
`)
}

func printStartHelp() {
	fmt.Println("Usage: courier start [--config PATH]")
	fmt.Println("Run the host in the foreground until SIGINT or SIGTERM.")
}

func printCallHelp() {
	fmt.Println("Usage: courier call [--url URL] [--token TOKEN] [--package ID] [--cbor] <command> [name=value ...]")
	fmt.Println("Values that parse as JSON (numbers, true, [..], {..}) are sent typed; the rest as strings.")
	fmt.Println("Exit code is 1 when the host answers with Success false.")
}

func printActivationsHelp() {
	fmt.Println("Usage: courier activations [--url URL] [--token TOKEN] [--limit N] [--json]")
}

func printReviewHelp() {
	fmt.Println("Usage: courier review [--url URL] [--token TOKEN]")
	fmt.Println("Approve [a] or deny [d] pending scope requests; updates live from the event stream.")
}
