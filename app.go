package mec

import (
	"context"
	"fmt"
	"os"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/mec/flags"
	"github.com/ethereum-optimism/infra/mec/registry"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	"github.com/ethereum/go-ethereum/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

// NewApp builds the mec CLI. reg holds the suites compiled into the binary.
func NewApp(reg *registry.Registry) *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "mec"
	app.Usage = "Minimal test harness"
	app.Description = "mec runs test suites in isolated execution contexts and reduces them to one exit code"
	app.ArgsUsage = "[<tests>...]"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(lifecycle(reg))
	app.ExitErrHandler = exitErrHandler
	return app
}

func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}
	cli.HandleExitCoder(cli.Exit(err.Error(), ExitCode(err)))
}

func lifecycle(reg *registry.Registry) cliapp.LifecycleAction {
	return func(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		logCfg := oplog.ReadCLIConfig(ctx)
		log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
		oplog.SetGlobalLogHandler(log.Handler())
		oplog.SetupDefaults()

		cfg, err := NewConfig(ctx, log, ctx.Args().Slice())
		if err != nil {
			// Wrap in RuntimeError to signal this should exit with code 2
			return nil, NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
		}
		cfg.Log.Debug("Config", "config", cfg)

		svc, err := New(cfg, reg, closeApp)
		if err != nil {
			return nil, NewRuntimeError(fmt.Errorf("failed to create mec: %w", err))
		}
		return svc, nil
	}
}

// Main runs the mec CLI over the suites registered in this binary.
func Main() {
	RunApp(NewApp(registry.Default), os.Args)
}

// RunApp runs app with telemetry and interrupt handling set up.
func RunApp(app *cli.App, args []string) {
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	if err := app.RunContext(ctx, args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}
