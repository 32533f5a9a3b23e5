// -----------------------------------------------------------------------
// chatrelay gateway entry point: loads configuration, runs preflight
// checks, wires the application, and serves the HTTP API until a signal
// or an admin shutdown request arrives.
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/chatrelay/internal/app"
	"github.com/ternarybob/chatrelay/internal/common"
	"github.com/ternarybob/chatrelay/internal/server"
)

func main() {
	defer common.RecoverWithCrashFile()

	configPath := flag.String("config", "", "path to config.yaml (default: data/config.yaml if present)")
	port := flag.Int("port", 0, "override server.port")
	logLevel := flag.String("log-level", "", "override logging.level")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return
	}

	path := *configPath
	if path == "" {
		if _, err := os.Stat("data/config.yaml"); err == nil {
			path = "data/config.yaml"
		}
	}

	cfg, err := common.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	common.ApplyFlagOverrides(cfg, *port, *logLevel)

	common.InstallCrashHandler(cfg.Browser.DataDir + "/temp")

	logger := common.SetupLogger(cfg)
	defer common.Stop()

	if err := common.RunPreflightChecks(cfg); err != nil {
		logger.Error().Err(err).Msg("preflight checks failed")
		os.Exit(common.ExitPreflightFailure)
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize application")
		os.Exit(1)
	}

	common.PrintBanner(cfg, logger, len(application.Registry.Types()), len(application.Instances), len(application.Pool.Workers()))

	srv := server.New(application)

	shutdownChan := make(chan struct{}, 1)
	srv.SetShutdownChannel(shutdownChan)

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server exited with error")
		}
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-shutdownChan:
		logger.Info().Msg("shutdown requested via admin endpoint")
	}

	common.PrintShutdownBanner(logger)

	grace := time.Duration(cfg.Server.ShutdownGraceSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown did not complete cleanly")
	}
	if err := application.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("application shutdown did not complete cleanly")
	}
}
