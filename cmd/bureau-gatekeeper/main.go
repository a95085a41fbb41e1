// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
	"github.com/bureau-foundation/gatekeeper/lib/config"
	"github.com/bureau-foundation/gatekeeper/lib/gatekeeper"
	"github.com/bureau-foundation/gatekeeper/lib/ledgerstore"
	"github.com/bureau-foundation/gatekeeper/lib/version"
	"github.com/bureau-foundation/gatekeeper/messaging"
)

const programName = "bureau-gatekeeper"

// httpTimeoutSlack is added to the sync long-poll timeout to get the
// HTTP client timeout, so a healthy long-poll never trips it.
const httpTimeoutSlack = 30 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	envFile     string
	logLevel    string
	showVersion bool
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&opts.configPath, "config", "", "YAML or JSONC config file (default: $"+config.ConfigEnvVar+")")
	flagSet.StringVar(&opts.envFile, "env-file", "", "dotenv file to load before reading the environment (default: ./.env if present)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	err := flagSet.Parse(args)
	return opts, err
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "%s %s\n", programName, version.Info())
		return nil
	}

	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	targets, err := cfg.Targets()
	if err != nil {
		return err
	}

	content, err := config.LoadContent(cfg.ContentDir, cfg.RenderMarkdown)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	accessToken, err := cfg.ReadAccessToken()
	if err != nil {
		return err
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.HomeserverURL,
		HTTPClient:    &http.Client{Timeout: cfg.SyncTimeout + httpTimeoutSlack},
		Logger:        logger,
		UserAgent:     version.UserAgent(programName),
	})
	if err != nil {
		accessToken.Close()
		return err
	}

	transport, err := gatekeeper.NewMatrixTransport(gatekeeper.MatrixTransportConfig{
		Client:      client,
		AccessToken: accessToken,
		DeviceID:    cfg.DeviceID,
		GatedRoom:   targets.GatedRoom,
		Limiter:     rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		Logger:      logger,
	})
	if err != nil {
		accessToken.Close()
		return err
	}
	defer transport.Close()

	registry := newRegistry()
	metrics := gatekeeper.NewMetrics(registry)

	engineConfig := gatekeeper.Config{
		GatedRoom:   targets.GatedRoom,
		RulesEvent:  targets.RulesEvent,
		Destination: targets.InviteSpace,
		Threshold:   cfg.RepostEveryNJoins,
		Content:     engineContent(content),
		SyncTimeout: cfg.SyncTimeout,
		RetryDelay:  cfg.SyncRetryDelay,
		Clock:       clock.Real(),
		Logger:      logger,
		Metrics:     metrics,
	}

	if cfg.StateDatabase != "" {
		store, err := ledgerstore.Open(ledgerstore.Config{
			Path:   cfg.StateDatabase,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		engineConfig.Store = store
	}

	engine, err := gatekeeper.New(transport, engineConfig)
	if err != nil {
		return err
	}

	if cfg.MetricsListen != "" {
		server, err := startMetricsServer(cfg.MetricsListen, registry, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownContext, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownContext)
		}()
	}

	logger.Info("gatekeeper starting",
		"version", version.Info(),
		"homeserver", cfg.HomeserverURL,
		"device_id", cfg.DeviceID,
		"state_database", cfg.StateDatabase,
	)

	if err := engine.Run(ctx); err != nil {
		return err
	}

	logger.Info("gatekeeper shutting down")
	return nil
}

// engineContent converts loaded content blocks to engine messages.
func engineContent(content config.Content) gatekeeper.Content {
	return gatekeeper.Content{
		Rules:   engineMessage(content.Rules),
		Welcome: engineMessage(content.Welcome),
		Tips:    engineMessage(content.Tips),
	}
}

func engineMessage(block config.Block) gatekeeper.Message {
	if block.IsZero() {
		return gatekeeper.Message{}
	}
	return gatekeeper.Message{Plain: block.Text, HTML: block.HTML}
}

// newRegistry returns a registry carrying the Go runtime and process
// collectors plus a build info gauge.
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gatekeeper_build_info",
		Help: "Build information for the running gatekeeper, always 1.",
	}, []string{"version", "commit"})
	buildInfo.WithLabelValues(version.Version, version.Commit()).Set(1)
	registry.MustRegister(buildInfo)
	return registry
}
