// cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/batchgate/batchgate/proxy"
)

var (
	configPath      string
	listenAddr      string
	backendURL      string
	backendTimeout  string
	maxBatch        int
	batchPolicy     string
	throttleBackoff string
	maxWait         string
	logLevel        string
)

var rootCmd = &cobra.Command{
	Use:   "batchgate",
	Short: "Batching proxy for a rate-limited classification backend",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the batching proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		logrus.Infof("Starting proxy: listen=%s backend=%s policy=%s max_batch=%d backoff=%v",
			cfg.Listen, cfg.Backend.URL, cfg.Batch.Policy, cfg.Batch.MaxSize, cfg.Dispatch.ThrottleBackoff)

		p, err := proxy.New(cfg)
		if err != nil {
			return err
		}
		p.Start()
		defer p.Stop()

		srv := proxy.NewServer(p, p.Gatherer(), cfg.Listen)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(srv.Run)
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown()
		})
		return g.Wait()
	},
}

// resolveConfig loads the optional config file and lets explicitly set flags
// win over it.
func resolveConfig(cmd *cobra.Command) (proxy.Config, error) {
	cfg := proxy.DefaultConfig()
	if configPath != "" {
		loaded, err := proxy.LoadConfig(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = listenAddr
	}
	if flags.Changed("backend-url") {
		cfg.Backend.URL = backendURL
	}
	if flags.Changed("backend-timeout") {
		d, err := parseDurationFlag(backendTimeout)
		if err != nil {
			return cfg, err
		}
		cfg.Backend.Timeout = d
	}
	if flags.Changed("max-batch") {
		cfg.Batch.MaxSize = maxBatch
	}
	if flags.Changed("policy") {
		cfg.Batch.Policy = batchPolicy
	}
	if flags.Changed("backoff") {
		d, err := parseDurationFlag(throttleBackoff)
		if err != nil {
			return cfg, err
		}
		cfg.Dispatch.ThrottleBackoff = d
	}
	if flags.Changed("max-wait") {
		d, err := parseDurationFlag(maxWait)
		if err != nil {
			return cfg, err
		}
		cfg.Dispatch.MaxWait = d
	}
	return cfg, cfg.Validate()
}

func parseDurationFlag(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8000", "Inbound HTTP listen address")
	serveCmd.Flags().StringVar(&backendURL, "backend-url", "http://localhost:8001/classify", "Classification backend URL")
	serveCmd.Flags().StringVar(&backendTimeout, "backend-timeout", "30s", "Per-call backend timeout")
	serveCmd.Flags().IntVar(&maxBatch, "max-batch", 5, "Maximum sequences per batch (backend caps at 5)")
	serveCmd.Flags().StringVar(&batchPolicy, "policy", "shortest-first", "Batch policy (shortest-first, fifo)")
	serveCmd.Flags().StringVar(&throttleBackoff, "backoff", "10ms", "Minimum wait after a backend 429")
	serveCmd.Flags().StringVar(&maxWait, "max-wait", "0s", "Force-dispatch a request waiting longer than this (0 disables)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
}
