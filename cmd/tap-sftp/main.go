package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/sftp-csv-tap/internal/catalog"
	"github.com/johndauphine/sftp-csv-tap/internal/config"
	"github.com/johndauphine/sftp-csv-tap/internal/exitcodes"
	"github.com/johndauphine/sftp-csv-tap/internal/logging"
	"github.com/johndauphine/sftp-csv-tap/internal/orchestrator"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "tap-sftp",
		Usage:   "Extract CSV files from SFTP (or S3, or a local directory) as a Singer stream",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file (YAML or JSON)",
			},
			&cli.StringFlag{
				Name:  "state-file",
				Usage: "Use this JSON/YAML state file instead of the configured state backend",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Explicit run ID (default: auto-generated UUID)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return exitcodes.NewExitError(err, exitcodes.ConfigError)
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// stdout carries the protocol stream
			logging.SetOutput(os.Stderr)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "discover",
				Usage:  "Sample every configured table and print the catalog",
				Action: runDiscover,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the catalog to this file instead of stdout",
					},
				},
			},
			{
				Name:   "sync",
				Usage:  "Emit records for new files of the selected streams",
				Action: runSync,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "catalog",
						Usage: "Catalog file with stream selections (default: discover and select all)",
					},
					&cli.StringFlag{
						Name:  "progress",
						Value: orchestrator.ProgressAuto,
						Usage: "Progress on stderr: auto, bar, json or none",
					},
					&cli.StringFlag{
						Name:  "output-file",
						Usage: "Write a JSON run summary to file on completion",
					},
				},
			},
			{
				Name:   "state",
				Usage:  "Print the persisted bookmarks",
				Action: showState,
			},
			{
				Name:   "check",
				Usage:  "List each table's files and read its bookmark without syncing",
				Action: runHealthCheck,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		code := exitcodes.FromError(err)
		fmt.Fprintf(os.Stderr, "Error: %v (%s)\n", err, exitcodes.Description(code))
		os.Exit(code)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("failed to load config: %w", err), exitcodes.ConfigError)
	}
	logging.Debug("Loaded config: %+v", cfg.Sanitized())
	return cfg, nil
}

func newOrchestrator(ctx context.Context, c *cli.Context, opts orchestrator.Options) (*orchestrator.Orchestrator, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	opts.StateFile = c.String("state-file")
	opts.RunID = c.String("run-id")
	return orchestrator.NewWithOptions(ctx, cfg, opts)
}

// signalContext cancels on SIGINT/SIGTERM. The watermark is already
// persisted per file, so the next run resumes from the last completed file.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted. Stopping after the current file...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

func runDiscover(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	orch, err := newOrchestrator(ctx, c, orchestrator.Options{})
	if err != nil {
		return err
	}
	defer orch.Close()

	cat, err := orch.Discover(ctx)
	if err != nil {
		return err
	}

	if path := c.String("output"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to write catalog: %w", err)
		}
		if err := cat.Write(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return cat.Write(os.Stdout)
}

func runSync(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	orch, err := newOrchestrator(ctx, c, orchestrator.Options{Progress: c.String("progress")})
	if err != nil {
		return err
	}
	defer orch.Close()
	logging.Info("Run ID: %s", orch.RunID())

	var cat *catalog.Catalog
	if path := c.String("catalog"); path != "" {
		cat, err = catalog.Load(path)
		if err != nil {
			return exitcodes.NewExitError(fmt.Errorf("loading catalog: %w", err), exitcodes.StateError)
		}
	} else {
		cat, err = orch.Discover(ctx)
		if err != nil {
			return err
		}
		cat.SelectAll()
	}

	syncErr := orch.Sync(ctx, cat)

	if outputFile := c.String("output-file"); outputFile != "" {
		if result := orch.LastResult(); result != nil {
			if err := writeJSONFile(outputFile, result); err != nil {
				logging.Warn("Failed to write run summary: %v", err)
			}
		}
	}

	return syncErr
}

func showState(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// No transport is needed to read bookmarks.
	cfg.Transport = config.TransportLocal

	orch, err := orchestrator.NewWithOptions(ctx, cfg, orchestrator.Options{
		StateFile: c.String("state-file"),
		Progress:  orchestrator.ProgressNone,
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	state, err := orch.State()
	if err != nil {
		return exitcodes.NewExitError(fmt.Errorf("reading state: %w", err), exitcodes.StateError)
	}
	return writeJSON(os.Stdout, state)
}

func runHealthCheck(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	orch, err := newOrchestrator(ctx, c, orchestrator.Options{Progress: orchestrator.ProgressNone})
	if err != nil {
		return err
	}
	defer orch.Close()

	result, err := orch.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if err := writeJSON(os.Stdout, result); err != nil {
		return err
	}
	if !result.Healthy {
		return exitcodes.NewExitError(fmt.Errorf("health check failed"), exitcodes.ConnectionError)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
