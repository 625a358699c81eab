// Package app wires the Content Directory's collaborators (storage, the
// content manager, the autoscan engine, resource dispatch) from a loaded
// Config into one long- or short-lived process, the way cmd/cdsd needs it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contentdir/internal/autoscan"
	"contentdir/internal/cds"
	"contentdir/internal/config"
	"contentdir/internal/contentmgr"
	"contentdir/internal/fs"
	"contentdir/internal/metadata"
	"contentdir/internal/resource"
	"contentdir/internal/storage"
	"contentdir/internal/transformer"
)

// App is the application layer between the CLI and the core collaborators.
// It constructs every dependency from config and exposes the high-level
// operations cmd/cdsd drives. The caller must call Close when done.
type App struct {
	cfg *config.Config

	db         *storage.SQLiteDatabase
	registry   *metadata.Registry
	pool       *contentmgr.TaskPool
	mgr        *contentmgr.ContentManager
	dispatcher *resource.Dispatcher
	engine     *autoscan.Engine
	notifier   *autoscan.FsNotifyAdapter

	metricsSrv *http.Server
	logFile    *os.File
	runID      string
}

// New constructs a fully wired App from cfg. runID identifies this process
// invocation for log correlation; pass "" to have one generated.
func New(cfg *config.Config, runID string) (*App, error) {
	if runID == "" {
		runID = uuid.New().String()
	}

	logger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	dbPath := filepath.Join(cfg.Storage.DataDir, "catalog.db")
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	db, err := storage.NewSQLiteDatabase(dbPath)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	registry := newMetadataRegistry(log)

	var reg prometheus.Registerer
	var metrics *contentmgr.Metrics
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		metrics = contentmgr.NewMetrics(reg)
	} else {
		metrics = contentmgr.NewMetrics(nil)
	}

	workers := cfg.TaskPool.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool := contentmgr.NewTaskPool(context.Background(), workers)

	tr := newTransformer(cfg, log)

	mgr := contentmgr.New(db, registry, tr, nil, pool, log, cds.RealClock{}, metrics)
	if len(cfg.Import.IgnorePatterns) > 0 {
		mgr.SetIgnoreMatcher(fs.NewIgnoreMatcher(cfg.Import.IgnorePatterns))
	}

	dispatcher := resource.NewDispatcher(db)
	dispatcher.Register(cds.HandlerDefault, resource.FileHandler{})
	if len(cfg.Resource.Profiles) > 0 {
		transcoder, err := newTranscoder(cfg)
		if err != nil {
			db.Close()
			logFile.Close()
			return nil, fmt.Errorf("creating transcoder: %w", err)
		}
		dispatcher.Register(cds.HandlerTranscoder, transcoder)
	}

	var notifier *autoscan.FsNotifyAdapter
	var fsNotifier cds.FsNotifier
	if hasInotifyAutoscan(cfg) {
		notifier, err = autoscan.NewFsNotifyAdapter()
		if err != nil {
			log.Warn("inotify unavailable, autoscan directories configured for it fall back to timed", "error", err)
		} else {
			fsNotifier = notifier
		}
	}
	engine := autoscan.New(db, mgr, fsNotifier, log, cds.RealClock{})

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg.(*prometheus.Registry), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	return &App{
		cfg: cfg, db: db, registry: registry, pool: pool, mgr: mgr,
		dispatcher: dispatcher, engine: engine, notifier: notifier,
		metricsSrv: metricsSrv, logFile: logFile, runID: runID,
	}, nil
}

func hasInotifyAutoscan(cfg *config.Config) bool {
	for _, a := range cfg.Autoscan {
		if a.Mode == "inotify" {
			return true
		}
	}
	return false
}

// newMetadataRegistry builds the handler chain in the fixed order spec §4.5
// step 4 requires: the default (original-file) resource first, so resIndex
// 0 is always the unmodified source, then format-specific extractors, then
// sidecar discovery.
func newMetadataRegistry(log cds.Logger) *metadata.Registry {
	r := metadata.NewRegistry(log, metadata.NewBudgetedRunner())
	r.Register(metadata.DefaultHandler{})
	r.Register(metadata.ID3Handler{})
	r.Register(metadata.FFmpegHandler{})
	r.Register(metadata.LibExifHandler{})
	r.Register(metadata.NewFanartHandler(metadata.ContentPathSetup{
		Names: []metadata.NameTemplate{"%filename%.jpg", "folder.jpg", "cover.jpg", "fanart.jpg"},
	}))
	r.Register(metadata.NewContainerArtHandler(metadata.ContentPathSetup{
		Names: []metadata.NameTemplate{"folder.jpg", "cover.jpg", "album.jpg"},
	}))
	r.Register(metadata.NewSubtitleHandler(metadata.ContentPathSetup{
		// Stem "*" is deliberately permissive: PatternTemplate.Stem isn't
		// expanded against the item's own filename (only Names are), so
		// matching restricted to extension is the closest default that
		// doesn't require per-root tuning.
		Patterns: []metadata.PatternTemplate{
			{Ext: "srt", Stem: "*"},
			{Ext: "sub", Stem: "*"},
		},
	}))
	r.Register(metadata.NewResourceHandler(metadata.ContentPathSetup{
		Patterns: []metadata.PatternTemplate{{Ext: "nfo", Stem: "*"}},
	}))
	return r
}

// newTransformer returns the configured import transformer. No scripting
// runtime is wired (see DESIGN.md), so a configured ScriptPath is currently
// rejected rather than silently ignored.
func newTransformer(cfg *config.Config, log cds.Logger) transformer.Transformer {
	if cfg.Import.ScriptPath == "" {
		return transformer.NopTransformer{}
	}
	log.Warn("import script configured but no scripting runtime is wired; falling back to no-op transform", "script_path", cfg.Import.ScriptPath)
	return transformer.NopTransformer{}
}

func newTranscoder(cfg *config.Config) (*resource.Transcoder, error) {
	profiles := make([]resource.Profile, len(cfg.Resource.Profiles))
	for i, p := range cfg.Resource.Profiles {
		profiles[i] = resource.Profile{Name: p.Name, Command: p.Command, Args: p.Args, ContentType: p.ContentType}
	}
	return resource.NewTranscoder(profiles, cfg.Resource.CacheDir, cfg.Resource.CacheEntries)
}

// Import runs a one-shot (non-autoscan) import of rawPath.
func (a *App) Import(ctx context.Context, rawPath string, recursive, hidden, followSymlinks bool) (int32, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return cds.UnassignedID, fmt.Errorf("resolving path: %w", err)
	}
	setting := contentmgr.AutoScanSetting{Recursive: recursive, Hidden: hidden, FollowSymlinks: followSymlinks}
	return a.mgr.AddFile(ctx, absPath, absPath, setting, false, false, false)
}

// Browse lists the children of containerID.
func (a *App) Browse(ctx context.Context, containerID int32, offset, count int) ([]cds.CdsObject, int, error) {
	return a.db.Browse(ctx, containerID, offset, count, nil)
}

// AddAutoscanDirectory persists a new autoscan directory and arms it in the
// running engine.
func (a *App) AddAutoscanDirectory(ctx context.Context, spec config.AutoscanSpec) (*cds.AutoscanDirectory, error) {
	absPath, err := filepath.Abs(spec.Location)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	containerID, err := a.mgr.EnsurePathExistence(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("ensuring container for %s: %w", absPath, err)
	}

	mode := cds.ScanTimed
	if spec.Mode == "inotify" {
		mode = cds.ScanInotify
	}
	adir := &cds.AutoscanDirectory{
		ID:         uuid.New().String(),
		ObjectID:   containerID,
		ScanMode:   mode,
		Location:   absPath,
		Recursive:  spec.Recursive,
		Hidden:     spec.Hidden,
		Interval:   time.Duration(spec.IntervalS) * time.Second,
		Persistent: spec.Persistent,
	}
	if err := a.db.InsertAutoscan(ctx, adir); err != nil {
		return nil, fmt.Errorf("persisting autoscan directory: %w", err)
	}
	if err := a.engine.Register(ctx, adir); err != nil {
		return nil, fmt.Errorf("arming autoscan directory: %w", err)
	}
	return adir, nil
}

// Serve runs the content directory server until ctx is cancelled: loads
// every persisted autoscan directory and blocks the task pool and engine
// open for async imports and filesystem events.
func (a *App) Serve(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("starting autoscan engine: %w", err)
	}
	<-ctx.Done()
	return nil
}

// Dispatcher exposes the resource dispatcher for a UPnP transport layer to
// drive (not implemented here; see DESIGN.md Non-goals).
func (a *App) Dispatcher() *resource.Dispatcher { return a.dispatcher }

// Storage exposes the catalog for read-only tooling (browse/search CLI
// commands).
func (a *App) Storage() cds.Storage { return a.db }

// Close shuts down the task pool, autoscan engine, metrics server, and
// database, in dependency order.
func (a *App) Close() error {
	var firstErr error

	a.engine.Shutdown()
	a.pool.Shutdown()

	if a.notifier != nil {
		if err := a.notifier.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping filesystem notifier: %w", err)
		}
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing metrics server: %w", err)
		}
	}
	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing catalog: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
