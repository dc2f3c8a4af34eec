// CLAUDE:SUMMARY avis command: one-shot run, scheduled serve mode with status routes, ledger prune/list, MCP stdio server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/avis/notices"
)

var version = "dev"

type globalFlags struct {
	config    string
	logLevel  string
	logFormat string
}

func main() {
	var g globalFlags
	root := &cobra.Command{
		Use:           "avis",
		Short:         "Discover new notices on monitored pages and deliver each once",
		Long:          "Scans notice boards, keeps the recent and unseen items and delivers each one once.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.config, "config", "", "YAML config file (default: ./avis.yaml when present)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "json or text")

	root.AddCommand(
		runCmd(&g),
		serveCmd(&g),
		pruneCmd(&g),
		sentCmd(&g),
		mcpCmd(&g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "avis:", err)
		os.Exit(1)
	}
}

// setup loads .env and the config, applies flag overrides and installs the logger.
func setup(g *globalFlags) (*notices.Config, *slog.Logger, error) {
	_ = godotenv.Load()

	var (
		cfg *notices.Config
		err error
	)
	path := g.config
	if path == "" {
		if _, statErr := os.Stat("avis.yaml"); statErr == nil {
			path = "avis.yaml"
		}
	}
	if path != "" {
		cfg, err = notices.LoadConfig(path)
		if err != nil {
			return nil, nil, err
		}
	} else {
		cfg = notices.DefaultConfig()
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newLogger writes to stderr: stdout carries command output and the MCP stream.
func newLogger(w io.Writer, cfg *notices.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCmd(g *globalFlags) *cobra.Command {
	var (
		sourceFlags []string
		dryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one discovery pass and deliver new notices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g)
			if err != nil {
				return err
			}
			cfg.DryRun = dryRun
			var sources []notices.Source
			if len(sourceFlags) > 0 {
				if sources, err = notices.SourcesFromURLs(sourceFlags); err != nil {
					return err
				}
			}

			svc, err := notices.New(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, cancel := signalContext()
			defer cancel()

			sum, err := svc.Run(ctx, sources)
			if err != nil {
				return err
			}
			if err := printJSON(sum); err != nil {
				return err
			}
			if sum.Status != "completed" {
				return fmt.Errorf("run %s: %s", sum.RunID, sum.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sourceFlags, "source", nil, "source URL to scan instead of the catalog (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print messages on stdout without delivering or recording them")
	return cmd
}

func pruneCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop ledger entries and runs older than the retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ledgerService(g)
			if err != nil {
				return err
			}
			defer svc.Close()
			res, err := svc.Prune(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func sentCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sent",
		Short: "Print the most recently delivered notices",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ledgerService(g)
			if err != nil {
				return err
			}
			defer svc.Close()
			entries, err := svc.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []notices.Entry{}
			}
			return printJSON(entries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	return cmd
}

// ledgerService builds a service for ledger-only commands, which never deliver.
func ledgerService(g *globalFlags) (*notices.Service, error) {
	cfg, logger, err := setup(g)
	if err != nil {
		return nil, err
	}
	cfg.Channel.Platform = "stdout"
	cfg.Browser.Disabled = true
	return notices.New(cfg, logger)
}

func mcpCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the avis tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g)
			if err != nil {
				return err
			}
			if cfg.Channel.Platform == "stdout" {
				return fmt.Errorf("%w: the stdout platform would corrupt the MCP stream", notices.ErrConfig)
			}
			svc, err := notices.New(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, cancel := signalContext()
			defer cancel()
			return serveMCP(ctx, svc)
		},
	}
}

func isShutdown(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, io.EOF))
}
