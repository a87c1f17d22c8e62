// Package main is the marbleproxy entry point: a reverse proxy in front
// of a wplace deployment that swaps composited template overlays into the
// tile responses passing through it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/penandalokasi/skirkmarble/internal/config"
	"github.com/penandalokasi/skirkmarble/internal/engine"
	"github.com/penandalokasi/skirkmarble/internal/events"
	"github.com/penandalokasi/skirkmarble/internal/intercept"
	"github.com/penandalokasi/skirkmarble/internal/logger"
	"github.com/penandalokasi/skirkmarble/internal/settings"
	"github.com/penandalokasi/skirkmarble/internal/storage"
	"github.com/penandalokasi/skirkmarble/internal/template"
)

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Logger())
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("proxy exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	upstream, err := url.Parse(cfg.Proxy.Upstream)
	if err != nil {
		return fmt.Errorf("parsing upstream URL: %w", err)
	}

	kv, closeKV, err := openStorage(cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer closeKV()

	bus := events.NewBus()

	store := template.NewStore(bus, kv, log.Named("templates"),
		template.WithMaxPixels(cfg.Engine.MaxTemplatePixels),
		template.WithIdentity(cfg.Engine.Whoami, "2.1.0"))
	if err := store.Load(context.Background()); err != nil {
		// Corrupted storage must not block rendering; start empty and
		// keep the broken document untouched.
		log.Error("template load failed, starting with no templates", zap.Error(err))
	}

	facade := settings.New(bus, kv, log.Named("settings"))
	if err := facade.Load(context.Background()); err != nil {
		log.Warn("settings load failed, using defaults", zap.Error(err))
	}

	eng := engine.New(engine.Config{
		Store:           store,
		Settings:        facade,
		Bus:             bus,
		Log:             log.Named("engine"),
		Deadline:        cfg.Engine.RenderDeadline,
		CacheMaxEntries: cfg.TileCache.MaxEntries,
		CacheByteBudget: cfg.TileCache.ByteBudget,
	})

	transport, err := intercept.NewTransport(nil, eng, cfg.Profile, bus, log.Named("intercept"))
	if err != nil {
		return fmt.Errorf("building interception transport: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.Transport = transport
	proxy.ErrorLog = zap.NewStdLog(log.Named("proxy"))

	srv := &http.Server{
		Addr:              cfg.Proxy.Listen,
		Handler:           proxy,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("proxy listening",
			zap.String("addr", cfg.Proxy.Listen),
			zap.String("upstream", cfg.Proxy.Upstream))
		errc <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.Stringer("signal", sig))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	if err := store.Persist(context.Background()); err != nil {
		log.Error("persisting templates on shutdown", zap.Error(err))
	}
	return nil
}

// openStorage builds the mirrored KV adapter from the configured paths.
func openStorage(cfg config.StorageConfig, log *zap.Logger) (*storage.Adapter, func(), error) {
	var primary, mirror storage.Backend
	var closers []func()

	if cfg.SQLitePath != "" {
		db, err := storage.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		primary = db
		closers = append(closers, func() { db.Close() })
	}
	if cfg.FileDir != "" {
		fs, err := storage.NewFile(cfg.FileDir)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, err
		}
		if primary == nil {
			primary = fs
		} else {
			mirror = fs
		}
	}
	if primary == nil {
		primary = storage.NewMemory()
		log.Warn("no storage paths configured, templates will not survive restarts")
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return storage.NewAdapter(primary, mirror, log.Named("storage")), closeAll, nil
}
