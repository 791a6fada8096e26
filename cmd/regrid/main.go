package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	httpadapter "github.com/couchcryptid/atmos-regrid/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/atmos-regrid/internal/adapter/kafka"
	"github.com/couchcryptid/atmos-regrid/internal/config"
	"github.com/couchcryptid/atmos-regrid/internal/domain"
	"github.com/couchcryptid/atmos-regrid/internal/download"
	"github.com/couchcryptid/atmos-regrid/internal/observability"
	"github.com/couchcryptid/atmos-regrid/internal/pipeline"
	"github.com/couchcryptid/atmos-regrid/internal/regrid"
	"github.com/couchcryptid/atmos-regrid/internal/retention"
	"github.com/couchcryptid/atmos-regrid/internal/source"
	"github.com/couchcryptid/atmos-regrid/internal/source/copernicus"
	"github.com/couchcryptid/atmos-regrid/internal/source/earthdata"
	"github.com/couchcryptid/atmos-regrid/internal/source/era5"
	"github.com/couchcryptid/atmos-regrid/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	src := buildSource(cfg, logger)

	grid, err := domain.NewGrid(cfg.Boundary, cfg.Resolution)
	if err != nil {
		logger.Error("invalid grid configuration", "error", err)
		os.Exit(1)
	}

	engine, err := regrid.NewEngine(regrid.Options{
		Method:      regrid.Method(cfg.InterpMethod),
		Kernel:      cfg.RBFKernel,
		Neighbors:   cfg.Neighbors,
		MaxDistance: cfg.MaxDistanceDG,
	})
	if err != nil {
		logger.Error("invalid interpolation configuration", "error", err)
		os.Exit(1)
	}

	artifacts := &store.ArtifactStore{
		Dir:         filepath.Join(cfg.DataDir, "processed", cfg.ProductType),
		ProviderTag: providerTag(cfg.Provider),
		ProductType: cfg.ProductType,
		VarName:     varNameFor(cfg.Provider, cfg.ProductType),
		Method:      cfg.InterpMethod,
		Units:       unitsFor(cfg.Provider),
	}

	rawDir := filepath.Join(cfg.DataDir, "raw", cfg.ProductType)
	destFn := func(p domain.Product) string {
		return filepath.Join(rawDir, p.AcquiredAt.Format("2006"), p.AcquiredAt.Format("01"), p.Name)
	}
	manager := download.NewManager(src, destFn, download.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}, cfg.DownloadTimeout, logger, metrics)

	p := pipeline.New(src, manager, engine, artifacts, pipeline.Options{
		Query: source.Query{
			ProductType: cfg.ProductType,
			Start:       cfg.StartDate,
			End:         cfg.EndDate,
			Boundary:    cfg.Boundary,
			Limit:       cfg.Limit,
		},
		Grid:           grid,
		QAThreshold:    cfg.QAThreshold,
		RegionGate:     cfg.RegionGate,
		Period:         cfg.Period,
		MaxConcurrency: cfg.MaxConcurrency,
	}, logger, metrics)

	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("composite publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	sweeper := retention.NewSweeper(cfg.RetentionDays, []string{"*.nc", "*.hdf", "*.tmp"}, logger)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runOnce := func(runCtx context.Context) {
		report, err := p.Run(runCtx)
		if err != nil {
			logger.Error("pipeline run failed", "error", err)
			return
		}
		srv.RecordRun(report)
		if publisher != nil {
			p.PublishResults(runCtx, publisher, report.Composites)
		}
		if cfg.RetentionDays > 0 {
			r := sweeper.Sweep(cfg.DataDir)
			if r.RemovedFiles > 0 || r.RemovedDirs > 0 {
				logger.Info("retention sweep complete",
					"removed_files", r.RemovedFiles,
					"removed_dirs", r.RemovedDirs,
					"reclaimed_bytes", r.ReclaimedBytes,
				)
			}
		}
	}

	if cfg.ScheduleCron != "" {
		scheduler := gocron.NewScheduler(time.UTC)
		// SingletonMode: a slow run must finish before the next fires.
		if _, err := scheduler.Cron(cfg.ScheduleCron).SingletonMode().Do(func() { runOnce(ctx) }); err != nil {
			logger.Error("invalid SCHEDULE_CRON", "cron", cfg.ScheduleCron, "error", err)
			os.Exit(1)
		}
		logger.Info("scheduled mode", "cron", cfg.ScheduleCron)
		scheduler.StartAsync()

		<-ctx.Done()
		scheduler.Stop()
	} else {
		runOnce(ctx)
		stop()
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	logger.Info("shutdown complete")
}

// buildSource resolves the configured provider to its adapter. Config
// validation already guaranteed the provider name and credentials.
func buildSource(cfg *config.Config, logger *slog.Logger) source.DataSource {
	switch cfg.Provider {
	case "modis":
		return earthdata.New(earthdata.Options{
			Username: cfg.EarthdataUsername,
			Password: cfg.EarthdataPassword,
			Timeout:  cfg.CatalogTimeout,
			Logger:   logger,
		})
	case "era5":
		return era5.New(era5.Options{
			APIURL: cfg.CDSAPIURL,
			Key:    cfg.CDSAPIKey,
			Logger: logger,
		})
	default:
		return copernicus.New(copernicus.Options{
			Username: cfg.CopernicusUsername,
			Password: cfg.CopernicusPassword,
			Timeout:  cfg.CatalogTimeout,
			VarName:  varNameFor(cfg.Provider, cfg.ProductType),
			Logger:   logger,
		})
	}
}

func providerTag(provider string) string {
	switch provider {
	case "modis":
		return "MODIS"
	case "era5":
		return "ERA5"
	default:
		return "S5P"
	}
}

func varNameFor(provider, productType string) string {
	switch provider {
	case "modis":
		return "aod"
	case "era5":
		if productType == "boundary_layer_height" {
			return "blh"
		}
		return productType
	default:
		return "no2"
	}
}

func unitsFor(provider string) string {
	switch provider {
	case "modis":
		return "1" // aerosol optical depth is dimensionless
	case "era5":
		return "m"
	default:
		return "mol m-2"
	}
}
