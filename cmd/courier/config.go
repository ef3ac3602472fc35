package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/courier/internal/config"
)

// loadConfig loads path, or the discovered config when path is empty, and
// returns the path used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = discovered
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Show hashes without writing .checksums")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}

	reports, err := config.Lock(configPath, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	for _, report := range reports {
		if isVerbose {
			fmt.Printf("Directory: %s\n", report.ConfigDir)
			for _, f := range report.Files {
				fmt.Printf("  HASH %s %s\n", f.Hash, f.Filename)
			}
		}
		if dryRun {
			fmt.Printf("Dry run: would write %s (%d files)\n", report.ChecksumPath, len(report.Files))
			continue
		}
		fmt.Printf("Wrote %s (%d files)\n", report.ChecksumPath, len(report.Files))
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if *jsonOut {
		out := map[string]any{"valid": err == nil, "config": path}
		if err != nil {
			out["error"] = err.Error()
		} else {
			out["commands"] = len(cfg.Commands)
			out["units"] = len(cfg.Units)
			out["api_enabled"] = cfg.API.Enabled
		}
		if printJSON(out) != 0 || err != nil {
			return 1
		}
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}

	fmt.Printf("Config: %s\n", path)
	fmt.Printf("Commands: %d\n", len(cfg.Commands))
	fmt.Printf("Units: %d\n", len(cfg.Units))
	fmt.Printf("API: enabled=%t listen=%s tokens=%d\n", cfg.API.Enabled, cfg.API.Listen, len(cfg.API.Tokens))
	fmt.Println("Status: Configuration check PASSED.")
	return 0
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: courier config <action> [flags]")
	fmt.Fprintln(w, "Actions: lock, check")
}

func printConfigLockHelp() {
	fmt.Println("Usage: courier config lock [--config PATH] [--dry-run] [-v|--verbose]")
	fmt.Println("Record BLAKE3 hashes of every config file in a .checksums file per directory.")
	fmt.Println("Once locked, start refuses to load files whose hash changed.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: courier config check [--config PATH] [--json]")
	fmt.Println("Load and validate configuration, including integrity hashes.")
}
