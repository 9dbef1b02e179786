package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/valpere/Importexter/internal/api"
	"github.com/valpere/Importexter/internal/assets"
	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/jobs"
	"github.com/valpere/Importexter/internal/monitoring"
	"github.com/valpere/Importexter/internal/presets"
	"github.com/valpere/Importexter/internal/scraper"
	"github.com/valpere/Importexter/internal/storage"
	"github.com/valpere/Importexter/internal/utils"
)

// serve wires settings into the admin API and blocks until interrupted.
func serve(settingsFile string) error {
	settings, err := config.LoadSettings(settingsFile)
	if err != nil {
		return err
	}
	if err := utils.InitLogger(settings.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := utils.NewComponentLogger("serve")

	ctx, cancel := signalContext()
	defer cancel()

	db, err := storage.Open(ctx, settings.Database.Driver, settings.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Infof("using %s database", db.Driver())

	var metrics *monitoring.MetricsManager
	if settings.Metrics {
		metrics = monitoring.NewMetricsManager(monitoring.MetricsConfig{EnableGoMetrics: true})
	}
	health := monitoring.NewHealthManager(version, 5*time.Second)
	health.RegisterCheck("database", true, db.Ping)

	registry := config.NewRegistry(
		config.WithSourceStore(db.Sources()),
		config.WithRegistryLogger(utils.NewComponentLogger("sources")),
	)
	if n, err := registry.LoadStore(ctx); err != nil {
		logger.Warnf("failed to load stored sources: %v", err)
	} else {
		logger.Infof("loaded %d stored sources", n)
	}
	if dirExists(settings.SourcesDir) {
		n, errs := registry.LoadDir(settings.SourcesDir)
		logger.Infof("loaded %d sources from %s (%d invalid)", n, settings.SourcesDir, len(errs))
		if settings.WatchSources {
			w, err := registry.Watch(ctx, settings.SourcesDir)
			if err != nil {
				logger.Warnf("source hot reload disabled: %v", err)
			} else {
				defer w.Close()
			}
		}
	}

	store, err := assets.NewLocalStore(settings.Assets.Root, settings.Assets.PublicURL, nil)
	if err != nil {
		return err
	}

	fetcher := scraper.NewHTTPClient(scraper.ClientConfig{
		Timeout:       settings.RequestTimeout,
		RetryAttempts: 2,
		Metrics:       metrics,
		Logger:        utils.NewComponentLogger("fetcher"),
	})
	extractor := scraper.NewExtractor(
		scraper.NewImageResolver(store, metrics, utils.NewComponentLogger("images")),
		metrics,
		utils.NewComponentLogger("extractor"),
	)

	mcfg := jobs.ManagerConfig{
		Repository: db.Jobs(),
		Sources:    registry,
		Fetcher:    fetcher,
		Extractor:  extractor,
		Catalog:    db.Catalog(),
		BatchDelay: settings.BatchDelay,
		Metrics:    metrics,
		Logger:     utils.NewComponentLogger("jobs"),
	}
	if settings.Redis.Addr != "" {
		guard := storage.NewRedisGuard(settings.Redis.Addr, settings.Redis.Password, settings.Redis.DB, settings.Redis.ClaimTTL)
		defer guard.Close()
		health.RegisterCheck("redis", true, guard.Ping)
		mcfg.Guard = guard
	}
	manager, err := jobs.NewManager(mcfg)
	if err != nil {
		return err
	}

	var presetRepo presets.Repository = presets.NewMemoryRepository()
	if settings.Mongo.URI != "" {
		repo, err := presets.NewMongoRepository(ctx, presets.MongoOptions{
			URI:        settings.Mongo.URI,
			Database:   settings.Mongo.Database,
			Collection: settings.Mongo.Collection,
		})
		if err != nil {
			return err
		}
		defer repo.Close(context.Background())
		health.RegisterCheck("mongo", false, repo.Ping)
		presetRepo = repo
	}

	srv := api.NewServer(api.Config{
		Jobs:       manager,
		Registry:   registry,
		Discoverer: scraper.NewDiscoverer(fetcher, metrics, utils.NewComponentLogger("discovery")),
		Fetcher:    fetcher,
		Presets:    presetRepo,
		Health:     health,
		Metrics:    metrics,
		Logger:     utils.NewComponentLogger("api"),
		APIKeys:    settings.Server.APIKeys,
		RateLimit:  settings.Server.RateLimit,
	})

	mux := http.NewServeMux()
	mux.Handle("/assets/", http.StripPrefix("/assets/", http.FileServer(http.Dir(store.Root()))))
	mux.Handle("/", srv.Routes())

	httpServer := &http.Server{
		Addr:         settings.Server.Addr,
		Handler:      mux,
		ReadTimeout:  settings.Server.ReadTimeout,
		WriteTimeout: settings.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("admin API listening on %s", settings.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
