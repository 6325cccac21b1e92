// cmd/common.go

// Package cmd holds the tuneroom subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GiGurra/boa/pkg/boa"

	"github.com/petervdpas/tuneroom/internal/app"
	"github.com/petervdpas/tuneroom/internal/config"
)

func defaultParamEnricher() boa.ParamEnricher {
	return boa.ParamEnricherCombine(
		boa.ParamEnricherBool,
		boa.ParamEnricherName,
		boa.ParamEnricherShort,
	)
}

// loadOptions resolves the config (dotenv, file, environment) and sets up
// logging from it.
func loadOptions(cfgPath, envFile string) (app.Options, error) {
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return app.Options{}, err
		}
	}
	cfg, err := config.Resolve(cfgPath)
	if err != nil {
		return app.Options{}, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	if err := app.SetupLogging(cfg.Log, nil); err != nil {
		return app.Options{}, err
	}
	return app.Options{CfgPath: cfgPath, Cfg: cfg}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func exitOnErr(name string, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
	os.Exit(1)
}
