// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/gcbridge/credential"
	"github.com/bureau-foundation/gcbridge/httpapi"
	"github.com/bureau-foundation/gcbridge/lib/clock"
	"github.com/bureau-foundation/gcbridge/lib/config"
	"github.com/bureau-foundation/gcbridge/lib/failure"
	"github.com/bureau-foundation/gcbridge/lib/process"
	"github.com/bureau-foundation/gcbridge/lib/sealed"
	"github.com/bureau-foundation/gcbridge/lib/service"
	"github.com/bureau-foundation/gcbridge/lib/version"
	"github.com/bureau-foundation/gcbridge/lib/watchdog"
	"github.com/bureau-foundation/gcbridge/orchestrator"
	"github.com/bureau-foundation/gcbridge/presence"
	"github.com/bureau-foundation/gcbridge/sidecar"
)

// watchdogFile is the fatal-disconnect record in the state directory.
const watchdogFile = "fatal-disconnect.json"

// watchdogMaxAge is how old a fatal-disconnect record may be and still
// be reported as the previous run's exit reason.
const watchdogMaxAge = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath  string
	envFile     string
	logLevel    string
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("gcbridge", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to gcbridge.yaml (default $"+config.EnvConfig+")")
	flagSet.StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before secrets are read")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	return opts, nil
}

func run() error {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Printf("gcbridge %s\n", version.Full())
		return nil
	}

	level, err := parseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, level, term.IsTerminal(int(os.Stderr.Fd())))

	if opts.envFile != "" {
		if err := config.LoadEnvFile(opts.envFile); err != nil {
			return err
		}
	}
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	secrets, err := cfg.LoadSecrets()
	if err != nil {
		return err
	}
	defer secrets.Close()

	realClock := clock.Real()
	watchdogPath := filepath.Join(cfg.Paths.State, watchdogFile)
	reportPreviousFailure(logger, watchdogPath, realClock.Now())

	store, err := openStore(cfg, realClock, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("gcbridge starting",
		"version", version.Info(),
		"account", store.Account(),
		"sidecar", cfg.Sidecar.URL,
	)

	conn, err := sidecar.Dial(ctx, sidecar.Config{
		URL:         cfg.Sidecar.URL,
		DialTimeout: cfg.Sidecar.DialTimeout,
		CallTimeout: cfg.Sidecar.CallTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	var bridge *orchestrator.Orchestrator
	var promptHandler func(presence.GuardPromptInfo)
	if secrets.TOTPSeed == nil && term.IsTerminal(int(os.Stdin.Fd())) {
		prompter := newTerminalPrompter(os.Stdin, os.Stderr, logger)
		promptHandler = func(info presence.GuardPromptInfo) {
			prompter.prompt(ctx, info, bridge.SubmitGuardCode)
		}
	}

	bridge, err = orchestrator.New(orchestrator.Config{
		Presence: presence.Config{
			Client:              sidecar.NewPresenceClient(conn),
			Store:               store,
			Account:             cfg.Account.Name,
			DisconnectThreshold: cfg.Presence.DisconnectThreshold,
			LogOnMinInterval:    cfg.Presence.LogonMinInterval,
			AutoRelogin:         cfg.Presence.AutoRelogin,
			RetryDelay:          cfg.Presence.RetryDelay,
			ExtractionTimeout:   cfg.Presence.ExtractionTimeout,
			WatchdogPath:        watchdogPath,
			GuardPromptHandler:  promptHandler,
		},
		Coordinator: sidecar.NewCoordinatorClient(conn),
		Credentials: presence.LoginRequest{Password: secrets.Password, TOTPSeed: secrets.TOTPSeed},
		AppID:       cfg.Presence.AppID,
		Readiness:   cfg.Coordinator,
		Startup:     cfg.Startup,
		Clock:       realClock,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.HTTP.Address,
		Handler:         httpapi.NewHandler(bridge, logger),
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		WriteTimeout:    cfg.Coordinator.RequestTimeout + 30*time.Second,
		Logger:          logger,
	})
	serverCtx, cancelServer := context.WithCancel(context.Background())
	defer cancelServer()
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(serverCtx) }()

	startDone := make(chan error, 1)
	go func() { startDone <- bridge.Start(ctx) }()

	serverStopped, runErr := supervise(ctx, logger, startDone, bridge.Fatal(), conn.Done(), conn.Err, serveDone)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), cfg.Startup.ShutdownDrain+cfg.HTTP.ShutdownTimeout+5*time.Second)
	defer cancelStop()
	if err := bridge.Stop(stopCtx); err != nil {
		logger.Warn("orchestrator stop", "error", err)
	}
	cancelServer()
	if !serverStopped {
		if err := <-serveDone; err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("gcbridge exiting", "error", runErr, "exit_code", process.ExitCode(runErr))
		return runErr
	}
	logger.Info("gcbridge stopped")
	return nil
}

// supervise waits for the first terminal condition: a signal, a failed
// startup, a fatal presence failure, a lost sidecar, or a failed HTTP
// server. serverStopped reports whether serveDone was consumed.
func supervise(
	ctx context.Context,
	logger *slog.Logger,
	startDone <-chan error,
	fatal <-chan error,
	sidecarDone <-chan struct{},
	sidecarErr func() error,
	serveDone <-chan error,
) (serverStopped bool, runErr error) {
	for {
		select {
		case err := <-startDone:
			startDone = nil
			if err != nil {
				if ctx.Err() != nil {
					logger.Info("startup interrupted by shutdown signal")
					return false, nil
				}
				return false, fmt.Errorf("startup: %w", err)
			}
		case err := <-fatal:
			return false, err
		case <-sidecarDone:
			return false, failure.Wrap(failure.KindFatalDisconnect, fmt.Errorf("sidecar connection lost: %w", sidecarErr()))
		case err := <-serveDone:
			if err == nil {
				err = errors.New("HTTP server stopped unexpectedly")
			}
			return true, fmt.Errorf("http server: %w", err)
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			if startDone != nil {
				// Start observes ctx and returns promptly.
				<-startDone
			}
			return false, nil
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// reportPreviousFailure logs and clears a recent fatal-disconnect
// record left by the previous run.
func reportPreviousFailure(logger *slog.Logger, path string, now time.Time) {
	state, found, err := watchdog.Check(path, watchdogMaxAge, now)
	if err != nil {
		logger.Warn("reading fatal-disconnect record failed", "path", path, "error", err)
		return
	}
	if !found {
		return
	}
	logger.Warn("previous run exited after repeated disconnects",
		"component", state.Component,
		"account", state.Account,
		"count", state.Count,
		"reason", state.Reason,
		"at", state.Timestamp,
	)
	if err := watchdog.Clear(path); err != nil {
		logger.Warn("clearing fatal-disconnect record failed", "error", err)
	}
}

func openStore(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*credential.Store, error) {
	var sealer *sealed.Sealer
	if cfg.Account.SealIdentityFile != "" {
		loaded, err := sealed.LoadSealer(cfg.Account.SealIdentityFile)
		if err != nil {
			return nil, fmt.Errorf("loading seal identity: %w", err)
		}
		sealer = loaded
		logger.Info("credential artifacts sealed at rest", "recipient", sealer.Recipient())
	}
	return credential.NewStore(credential.StoreConfig{
		Directory: cfg.Paths.Credentials,
		Account:   cfg.Account.Name,
		Sealer:    sealer,
		Clock:     clk,
		Logger:    logger,
	})
}
