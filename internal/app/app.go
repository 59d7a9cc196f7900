// Package app provides the unified application lifecycle management for Rangekeeper.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	httpapi "github.com/rangekeeper/rangekeeper/internal/api/http"
	"github.com/rangekeeper/rangekeeper/internal/catalog"
	"github.com/rangekeeper/rangekeeper/internal/changelog"
	"github.com/rangekeeper/rangekeeper/internal/config"
	"github.com/rangekeeper/rangekeeper/internal/lifecycle"
	"github.com/rangekeeper/rangekeeper/internal/manifest"
	"github.com/rangekeeper/rangekeeper/internal/observability"
	"github.com/rangekeeper/rangekeeper/internal/router"
	"github.com/rangekeeper/rangekeeper/internal/server"
	"github.com/rangekeeper/rangekeeper/internal/storage"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// App manages all Rangekeeper service lifecycles.
type App struct {
	cfg *config.Config

	// Shared resources
	keys     types.TimeKeySpace
	catalog  *catalog.Catalog
	store    *manifest.Store
	archiver *changelog.Archiver
	stats    *observability.RouteStats
	router   *router.Router
	manager  *lifecycle.Manager
	shutdown *server.ShutdownManager

	// Service components
	adminServer *http.Server
	daemon      *lifecycle.Daemon

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:      cfg,
		keys:     types.NewTimeKeySpace(),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{}),
	}, nil
}

// Start initializes shared resources and starts all configured services.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup(context.Background())
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if a.cfg.ShouldServe() {
		if err := a.startAdminService(ctx); err != nil {
			a.cleanup(context.Background())
			return fmt.Errorf("failed to start admin service: %w", err)
		}
	}

	if a.cfg.ShouldMaintain() {
		if err := a.daemon.Start(ctx); err != nil {
			a.cleanup(context.Background())
			return fmt.Errorf("failed to start maintenance daemon: %w", err)
		}
		log.Printf("Maintenance daemon started: interval=%s, lookahead=%d",
			a.cfg.Frontier.CheckInterval, a.cfg.Frontier.LookaheadPeriods)
	}

	log.Printf("Rangekeeper started in %s mode", a.cfg.Mode)
	return nil
}

// initSharedResources opens the manifest, restores or creates the catalog,
// and wires the routing and lifecycle components.
func (a *App) initSharedResources(ctx context.Context) error {
	store, err := manifest.NewStore(a.cfg.ManifestPath(), a.keys)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	a.store = store
	a.shutdown.RegisterCloser(server.CloserFunc(store.Close))
	log.Printf("Manifest opened: %s", a.cfg.ManifestPath())

	cat, err := store.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if cat == nil {
		origin, err := a.originKey()
		if err != nil {
			return err
		}
		cat, err = catalog.New(a.keys, origin, a.cfg.Keyspace.OverflowName)
		if err != nil {
			return fmt.Errorf("failed to create catalog: %w", err)
		}
		if err := store.Initialize(ctx, cat.Snapshot()); err != nil {
			return fmt.Errorf("failed to seed manifest: %w", err)
		}
		log.Printf("Catalog created: overflow=%s", a.cfg.Keyspace.OverflowName)
	} else {
		log.Printf("Catalog restored: %d partition(s), seq=%d",
			cat.Snapshot().Len(), cat.Snapshot().Seq())
	}
	a.catalog = cat

	a.stats = observability.NewRouteStats()
	a.router = router.New(a.keys, a.stats)

	appliers := lifecycle.MultiApplier{store}
	if a.cfg.Archive.Enabled {
		archiveStore, err := a.initArchiveStorage(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize archive storage: %w", err)
		}
		a.archiver = changelog.NewArchiver(archiveStore, a.keys, a.cfg.Archive.Prefix, a.cfg.Archive.BatchSize)
		appliers = append(appliers, a.archiver)
		a.shutdown.RegisterCloser(server.CloserFunc(a.archiver.Close))
		log.Printf("Change archive enabled: type=%s, prefix=%s", a.cfg.Archive.Type, a.cfg.Archive.Prefix)
	}

	mgr, err := lifecycle.New(cat, a.cfg.Keyspace.Unit, appliers)
	if err != nil {
		return fmt.Errorf("failed to create lifecycle manager: %w", err)
	}
	a.manager = mgr

	a.daemon = lifecycle.NewDaemon(lifecycle.DaemonConfig{
		CheckInterval:    a.cfg.Frontier.CheckInterval,
		LookaheadPeriods: a.cfg.Frontier.LookaheadPeriods,
		Retention:        a.cfg.RetentionPolicy(),
	}, mgr, a.keys, a.cfg.Keyspace.Unit, lifecycle.SystemClock{})

	return nil
}

// originKey resolves the key-space origin for a fresh catalog. When no origin
// is configured, the current period start is used.
func (a *App) originKey() (types.KeyValue, error) {
	if a.cfg.Keyspace.Origin != "" {
		origin, err := a.keys.Decode(a.cfg.Keyspace.Origin)
		if err != nil {
			return nil, fmt.Errorf("invalid keyspace origin: %w", err)
		}
		return origin, nil
	}
	return a.keys.TruncatePeriod(time.Now().UTC(), a.cfg.Keyspace.Unit), nil
}

// initArchiveStorage builds the object storage backend for the change archive.
func (a *App) initArchiveStorage(ctx context.Context) (storage.ObjectStorage, error) {
	switch a.cfg.Archive.Type {
	case "local":
		return storage.NewLocalStorage(a.cfg.Archive.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Archive.S3.Region != "" {
			s3Cfg.Region = a.cfg.Archive.S3.Region
		}
		if a.cfg.Archive.S3.Endpoint != "" {
			s3Cfg.Endpoint = a.cfg.Archive.S3.Endpoint
		}
		s3Cfg.UsePathStyle = a.cfg.Archive.S3.UsePathStyle
		return storage.NewS3Storage(ctx, a.cfg.Archive.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported archive storage type: %s", a.cfg.Archive.Type)
	}
}

// startAdminService starts the admin HTTP server.
func (a *App) startAdminService(ctx context.Context) error {
	adminAPI := httpapi.NewAdminAPI(a.catalog, a.router, a.manager, a.store, a.stats, a.cfg.Keyspace.Unit)
	handler := server.ShutdownMiddleware(a.shutdown)(adminAPI.Routes())

	a.adminServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("Admin HTTP server listening on %s", a.cfg.HTTP.Addr)
		if err := a.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Admin HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")

	if a.cancel != nil {
		a.cancel()
	}

	// Stop the daemon first so no new catalog mutations race the flush below.
	if a.daemon != nil {
		if err := a.daemon.Stop(); err != nil {
			log.Printf("Maintenance daemon stop error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.adminServer != nil {
		if err := a.adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	a.cleanup(shutdownCtx)

	log.Printf("Rangekeeper stopped")
	return nil
}

// cleanup drains in-flight requests and closes registered resources, the
// change archive before the manifest it recorded against.
func (a *App) cleanup(ctx context.Context) {
	if err := a.shutdown.Shutdown(ctx); err != nil {
		log.Printf("[WARN] resource cleanup: %v", err)
	}
}
