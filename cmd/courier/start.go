package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/courier/internal/activation"
	"github.com/mattjoyce/courier/internal/api"
	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/background"
	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/execrun"
	"github.com/mattjoyce/courier/internal/host"
	"github.com/mattjoyce/courier/internal/journal"
	"github.com/mattjoyce/courier/internal/lock"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/scheduler"
	"github.com/mattjoyce/courier/internal/storage"
)

// shutdownGrace bounds how long start waits for in-flight activations.
const shutdownGrace = 30 * time.Second

// app is one assembled courier host.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	hub      *events.Hub
	grants   *auth.Provider
	commands *command.Registry
	host     *host.Store
	units    *background.Registry
	journal  *journal.Journal
	gate     *activation.Gate
	lifetime *activation.Lifetime
	sched    *scheduler.Scheduler
	api      *api.Server
}

// newApp opens state and wires every component from cfg. Nothing is started.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", cfg.State.Path, err)
	}
	a := &app{cfg: cfg, db: db, hub: events.NewHub(256), lifetime: activation.NewLifetime()}

	a.grants = auth.NewProvider(db, a.hub)
	for identity, scopes := range cfg.Grants {
		if err := a.grants.Grant(ctx, identity, scopes); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seed grants for %s: %w", identity, err)
		}
	}

	runner := execrun.New()

	a.commands = command.NewRegistry()
	a.commands.MustRegister(command.NewHelp(a.commands), command.NewAuth(a.grants))
	for _, c := range cfg.Commands {
		var h command.Handler = command.NewExec(c.Name, c.DisplayName, c.Summary, runner, execSpec(c.Exec))
		if len(c.Scopes) > 0 {
			h = command.Authorize(h, a.grants, c.Scopes...)
		}
		if err := a.commands.Register(h); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("register command %s: %w", c.Name, err)
		}
	}

	policy, err := host.ParsePolicy(cfg.Host.Access)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.host = host.New(db, policy)
	a.units = background.NewRegistry(a.host, a.hub)
	for _, u := range cfg.Units {
		tr, err := background.ParseTrigger(u.Trigger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("unit %s: %w", u.Name, err)
		}
		if err := a.units.RegisterUnit(background.ExecUnit(u.Name, tr, u.RequiresNetwork, runner, execSpec(u.Exec))); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("unit %s: %w", u.Name, err)
		}
	}
	a.units.Seal()

	a.journal = journal.New(db)
	a.gate = activation.NewGate(a.commands, a.units, a.journal, a.hub)

	a.sched = scheduler.New(scheduler.Options{
		TickInterval: cfg.Service.TickInterval,
		Jitter:       cfg.Service.Jitter,
		Retention:    cfg.Service.ActivationLogRetention,
	}, scheduler.Deps{
		Registrations: a.host,
		Activator:     a.gate,
		Tokens:        a.lifetime,
		Journal:       a.journal,
		Units:         a.units,
		Events:        a.hub,
	}, logger)

	if cfg.API.Enabled {
		a.api = api.New(api.Config{
			Listen: cfg.API.Listen,
			Tokens: tokenConfigs(cfg.API.Tokens),
		}, api.Deps{
			Messages:    a.gate,
			Tokens:      a.lifetime,
			Events:      a.sched,
			Grants:      a.grants,
			Units:       a.units,
			Activations: a.journal,
			Commands:    a.commands,
			Stream:      a.hub,
		}, logger)
	}
	return a, nil
}

func execSpec(c config.ExecConfig) execrun.Spec {
	return execrun.Spec{Path: c.Path, Args: c.Args, Env: c.Env, Dir: c.Dir, Timeout: c.Timeout}
}

func tokenConfigs(tokens []config.APIToken) []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, auth.TokenConfig{Token: t.Token, Identity: t.Identity, Scopes: t.Scopes})
	}
	return out
}

// run registers units, starts the scheduler and API, and blocks until ctx
// ends or a component fails. In-flight activations are drained on the way out.
func (a *app) run(ctx context.Context, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A shutdown during startup is a clean stop.
	if err := a.units.Start(ctx, a.cfg.Host.Reregister); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("background units: %w", err)
	}
	if err := a.sched.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	errCh := make(chan error, 1)
	if a.api != nil {
		go func() {
			if err := a.api.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", a.cfg.API.Listen)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("component failed", "error", runErr)
	}
	cancel()

	a.sched.Stop()
	a.lifetime.Close()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer waitCancel()
	if err := a.lifetime.Wait(waitCtx); err != nil {
		logger.Warn("activations still outstanding at shutdown", "count", a.lifetime.Outstanding())
	}
	return runErr
}

func (a *app) close() error {
	return a.db.Close()
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("courier starting", "version", version, "config", path, "name", cfg.Service.Name)

	pidLock, err := lock.ForState(cfg.State.Path)
	if err != nil {
		logger.Error("failed to acquire state lock", "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired state lock", "path", pidLock.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log.Get())
	if err != nil {
		logger.Error("failed to assemble host", "error", err)
		return 1
	}
	defer a.close()
	logger.Info("host assembled",
		"commands", len(a.commands.Descriptions()),
		"units", len(a.units.Units()),
		"access", cfg.Host.Access,
	)

	logger.Info("courier running (press Ctrl+C to stop)")
	if err := a.run(ctx, logger); err != nil {
		return 1
	}
	logger.Info("courier stopped")
	return 0
}
