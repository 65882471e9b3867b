// Package orchestrator drives discovery and sync runs: it owns the transport,
// the state backend, and the protocol stream for the lifetime of one command.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/sftp-csv-tap/internal/catalog"
	"github.com/johndauphine/sftp-csv-tap/internal/checkpoint"
	"github.com/johndauphine/sftp-csv-tap/internal/config"
	"github.com/johndauphine/sftp-csv-tap/internal/discovery"
	"github.com/johndauphine/sftp-csv-tap/internal/exitcodes"
	"github.com/johndauphine/sftp-csv-tap/internal/logging"
	"github.com/johndauphine/sftp-csv-tap/internal/metrics"
	"github.com/johndauphine/sftp-csv-tap/internal/notify"
	"github.com/johndauphine/sftp-csv-tap/internal/progress"
	"github.com/johndauphine/sftp-csv-tap/internal/protocol"
	"github.com/johndauphine/sftp-csv-tap/internal/syncer"
	"github.com/johndauphine/sftp-csv-tap/internal/transport"
	"github.com/johndauphine/sftp-csv-tap/internal/transport/localfs"
	"github.com/johndauphine/sftp-csv-tap/internal/transport/s3"
	"github.com/johndauphine/sftp-csv-tap/internal/transport/sftpfs"
)

// Progress modes.
const (
	ProgressAuto = "auto" // bar on a terminal, nothing otherwise
	ProgressBar  = "bar"
	ProgressJSON = "json"
	ProgressNone = "none"
)

// Options configures orchestrator behavior.
type Options struct {
	// RunID overrides the generated run ID.
	RunID string
	// StateFile replaces the configured state backend with a file backend.
	StateFile string
	// Progress selects how sync progress is shown on stderr.
	Progress string
	// Output receives the protocol stream. Defaults to stdout.
	Output io.Writer
}

// Orchestrator coordinates discovery and sync
type Orchestrator struct {
	config     *config.Config
	transport  transport.Transport
	state      checkpoint.Backend
	out        *protocol.Writer
	notifier   notify.Provider
	progress   progress.Sink
	runID      string
	lastResult *SyncResult
}

// New creates an orchestrator with default options.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	return NewWithOptions(ctx, cfg, Options{})
}

// NewWithOptions connects the configured transport and opens the state backend.
func NewWithOptions(ctx context.Context, cfg *config.Config, opts Options) (*Orchestrator, error) {
	t, err := openTransport(ctx, cfg)
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("connecting to %s: %w", cfg.Transport, err), exitcodes.ConnectionError)
	}

	stateCfg := cfg.State
	if opts.StateFile != "" {
		stateCfg = config.StateConfig{Backend: config.StateFile, Path: opts.StateFile}
	}
	state, err := checkpoint.Open(stateCfg)
	if err != nil {
		t.Close()
		return nil, exitcodes.NewExitError(fmt.Errorf("opening state: %w", err), exitcodes.StateError)
	}

	return NewWithDeps(cfg, t, state, opts), nil
}

// NewWithDeps builds an orchestrator around an existing transport and state
// backend. The orchestrator takes ownership of both.
func NewWithDeps(cfg *config.Config, t transport.Transport, state checkpoint.Backend, opts Options) *Orchestrator {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()[:8]
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	logging.SetRunID(runID)
	return &Orchestrator{
		config:    cfg,
		transport: t,
		state:     state,
		out:       protocol.NewWriter(out),
		notifier:  notify.New(&cfg.Slack),
		progress:  newSink(opts.Progress),
		runID:     runID,
	}
}

func openTransport(ctx context.Context, cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportS3:
		return s3.New(s3.Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UseSSL:          cfg.S3.UseSSL,
			Prefix:          cfg.S3.Prefix,
		})
	case config.TransportLocal:
		return localfs.New(cfg.RootDir), nil
	default:
		return sftpfs.Dial(ctx, sftpfs.Config{
			Host:                 cfg.Host,
			Port:                 cfg.Port,
			Username:             cfg.Username,
			Password:             cfg.Password,
			PrivateKeyFile:       cfg.PrivateKeyFile,
			PrivateKeyPassphrase: cfg.PrivateKeyPassphrase,
			KnownHostsFile:       cfg.KnownHostsFile,
			RootDir:              cfg.RootDir,
			Timeout:              time.Duration(cfg.ConnectTimeout) * time.Second,
			MaxRetries:           cfg.MaxRetries,
		})
	}
}

func newSink(mode string) progress.Sink {
	switch mode {
	case ProgressBar:
		return progress.New(os.Stderr)
	case ProgressJSON:
		return progress.NewJSONReporter(os.Stderr, 2*time.Second)
	case ProgressNone:
		return progress.NullReporter{}
	default:
		if progress.StderrIsTerminal() {
			return progress.New(os.Stderr)
		}
		return progress.NullReporter{}
	}
}

// RunID returns the identifier used in logs, notifications and metrics.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Close releases the transport and the state backend.
func (o *Orchestrator) Close() error {
	return errors.Join(o.transport.Close(), o.state.Close())
}

// Discover builds the catalog for every configured table.
func (o *Orchestrator) Discover(ctx context.Context) (*catalog.Catalog, error) {
	logging.Info("Starting discover")
	cat, err := discovery.Discover(ctx, o.config, o.transport)
	if err != nil {
		return nil, err
	}
	logging.Info("Finished discover")
	return cat, nil
}

// State returns the persisted bookmarks.
func (o *Orchestrator) State() (checkpoint.State, error) {
	return o.state.Snapshot()
}

// LastResult returns the summary of the most recent Sync call, or nil.
func (o *Orchestrator) LastResult() *SyncResult {
	return o.lastResult
}

// Sync emits SCHEMA, RECORD and STATE messages for every selected stream of
// the catalog, in catalog order.
func (o *Orchestrator) Sync(ctx context.Context, cat *catalog.Catalog) error {
	startTime := time.Now()
	result := &SyncResult{RunID: o.runID, Status: "running", StartedAt: startTime}
	o.lastResult = result

	logging.Info("Starting sync.")

	selected := 0
	for _, s := range cat.Streams {
		if s.IsSelected() {
			selected++
		}
	}
	result.StreamsTotal = selected
	if err := o.notifier.SyncStarted(o.runID, o.sourceDescription(), selected); err != nil {
		logging.Warn("Failed to send start notification: %v", err)
	}

	engine := syncer.New(o.transport, o.state, o.out, o.progress, syncer.Options{
		CheckpointRows: o.config.StateCheckpointRows,
	})

	for _, stream := range cat.Streams {
		name := stream.TapStreamID
		if !stream.IsSelected() {
			logging.Info("%s: Skipping - not selected", name)
			continue
		}

		res, err := o.syncStream(ctx, engine, stream)
		result.add(name, res, err)
		if err != nil {
			o.fail(result, name, err)
			return err
		}
		logging.Info("%s: Completed sync (%d rows)", name, res.Records)
	}

	if err := o.writeState(); err != nil {
		o.fail(result, "", err)
		return err
	}
	if err := o.out.Flush(); err != nil {
		o.fail(result, "", err)
		return err
	}
	o.progress.Finish()

	result.finish("success", nil)
	logging.Info("Done syncing.")

	if err := o.notifier.SyncCompleted(o.runID, startTime, time.Since(startTime), result.summaries()); err != nil {
		logging.Warn("Failed to send completion notification: %v", err)
	}
	o.pushMetrics(ctx)
	return nil
}

func (o *Orchestrator) syncStream(ctx context.Context, engine *syncer.Engine, stream *catalog.Stream) (syncer.Result, error) {
	name := stream.TapStreamID
	spec, ok := o.config.Table(name)
	if !ok {
		return syncer.Result{}, exitcodes.NewExitError(
			fmt.Errorf("stream '%s' is selected in the catalog but has no table configuration", name),
			exitcodes.ConfigError)
	}

	if err := o.writeState(); err != nil {
		return syncer.Result{}, err
	}
	if err := o.out.WriteSchema(name, stream.Schema, stream.TableKeyProperties()); err != nil {
		return syncer.Result{}, fmt.Errorf("writing schema for %s: %w", name, err)
	}

	prior, _, err := o.state.Bookmark(spec.TableName)
	if err != nil {
		return syncer.Result{}, exitcodes.NewExitError(fmt.Errorf("reading bookmark for %s: %w", name, err), exitcodes.StateError)
	}

	logging.Info("%s: Starting sync", name)
	return engine.SyncTable(ctx, spec, stream, prior)
}

func (o *Orchestrator) writeState() error {
	snap, err := o.state.Snapshot()
	if err != nil {
		return exitcodes.NewExitError(fmt.Errorf("reading state: %w", err), exitcodes.StateError)
	}
	return o.out.WriteState(snap)
}

func (o *Orchestrator) fail(result *SyncResult, stream string, err error) {
	// Records already written stay valid; flush them with whatever state
	// was persisted.
	if ferr := o.out.Flush(); ferr != nil {
		logging.Warn("Failed to flush output: %v", ferr)
	}
	o.progress.Finish()
	result.finish("failed", err)
	if nerr := o.notifier.SyncFailed(o.runID, stream, err, time.Since(result.StartedAt)); nerr != nil {
		logging.Warn("Failed to send failure notification: %v", nerr)
	}
	o.pushMetrics(context.Background())
}

func (o *Orchestrator) pushMetrics(ctx context.Context) {
	if err := metrics.Push(ctx, o.config.Metrics.PushgatewayURL, o.config.Metrics.Job, o.runID); err != nil {
		logging.Warn("Failed to push metrics: %v", err)
	}
}

func (o *Orchestrator) sourceDescription() string {
	switch o.config.Transport {
	case config.TransportS3:
		return fmt.Sprintf("s3://%s/%s", o.config.S3.Bucket, o.config.S3.Prefix)
	case config.TransportLocal:
		return "file://" + o.config.RootDir
	default:
		return fmt.Sprintf("sftp://%s@%s:%d%s", o.config.Username, o.config.Host, o.config.Port, o.config.RootDir)
	}
}
