package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/bizmap/internal/cache/datasetcache"
	"github.com/mohammed-shakir/bizmap/internal/cache/redisstore"
	"github.com/mohammed-shakir/bizmap/internal/catalog"
	"github.com/mohammed-shakir/bizmap/internal/core/api"
	"github.com/mohammed-shakir/bizmap/internal/core/config"
	"github.com/mohammed-shakir/bizmap/internal/core/health"
	"github.com/mohammed-shakir/bizmap/internal/core/observability"
	"github.com/mohammed-shakir/bizmap/internal/core/server"
	"github.com/mohammed-shakir/bizmap/internal/datastore"
	"github.com/mohammed-shakir/bizmap/internal/generate"
	"github.com/mohammed-shakir/bizmap/internal/generate/process"
	"github.com/mohammed-shakir/bizmap/internal/logger"
	"github.com/mohammed-shakir/bizmap/internal/mapevents"
	h3mapper "github.com/mohammed-shakir/bizmap/internal/mapper/h3"
	"github.com/mohammed-shakir/bizmap/internal/metrics"
	"github.com/mohammed-shakir/bizmap/internal/popularity"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional
	_ = godotenv.Load()

	addrFlag := flag.String("addr", "", "listen address")
	dataFlag := flag.String("data-dir", "", "directory holding the catalog and datasets")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}
	if *dataFlag != "" {
		cfg.DataDir = strings.TrimSpace(*dataFlag)
	}

	appLog := logger.New(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "bizmap",
		Component: "mapserver",
	}, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.ExposeBuildInfo(Version)
	if cfg.Metrics.Enabled {
		p := metrics.Init(metrics.Config{
			Addr: cfg.Metrics.Addr,
			Path: cfg.Metrics.Path,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		observability.Init(p.Registerer())
		if _, err := p.Serve(ctx, appLog); err != nil {
			appLog.Error("metrics listener failed", "addr", cfg.Metrics.Addr, "err", err)
			return 1
		}
	}

	appLog.Info("starting mapserver",
		"addr", cfg.Addr,
		"version", Version,
		"data_dir", cfg.DataDir,
		"acquire_cmd", cfg.Acquire.Command)

	files, err := datastore.New(cfg.DataDir)
	if err != nil {
		appLog.Error("dataset store init failed", "err", err)
		return 1
	}

	cacheOpts := datasetcache.Options{
		LRUSize:   cfg.Cache.LRUSize,
		TTL:       cfg.Cache.TTL,
		OpTimeout: cfg.Cache.OpTimeout,
		Namespace: "bizmap",
		Logger:    appLog,
	}
	var ready []health.Check
	if cfg.Cache.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.Cache.RedisAddr, redisstore.Options{OpTimeout: cfg.Cache.OpTimeout})
		if err != nil {
			appLog.Warn("redis unavailable, using local cache only", "addr", cfg.Cache.RedisAddr, "err", err)
		} else {
			defer func() { _ = rc.Close() }()
			cacheOpts.Remote = rc
			ready = append(ready, health.Check{Name: "redis", Optional: true, Fn: rc.Ping})
		}
	}
	datasets, err := datasetcache.New(files, cacheOpts)
	if err != nil {
		appLog.Error("dataset cache init failed", "err", err)
		return 1
	}

	catOpts := catalog.Options{Logger: appLog, Datasets: datasets}
	if cfg.Events.Enabled {
		pub, err := mapevents.NewPublisher(cfg.Events.Brokers, mapevents.Options{
			Topic:     cfg.Events.Topic,
			QueueSize: cfg.Events.Queue,
			Logger:    appLog,
		})
		if err != nil {
			appLog.Warn("map events disabled", "brokers", cfg.Events.Brokers, "err", err)
		} else {
			defer func() { _ = pub.Close() }()
			catOpts.Notifier = pub
		}
	}
	cat, err := catalog.New(cfg.DataDir, catOpts)
	if err != nil {
		appLog.Error("catalog init failed", "err", err)
		return 1
	}
	ready = append([]health.Check{{Name: "catalog", Fn: func(ctx context.Context) error {
		_, err := cat.List(ctx)
		return err
	}}}, ready...)

	recoverStorage(ctx, appLog, cfg, files, cat)

	acq, err := process.New(cfg.Acquire.Command, process.Options{
		Args:   cfg.Acquire.Args,
		Logger: appLog,
	})
	if err != nil {
		appLog.Error("acquirer init failed", "err", err)
		return 1
	}
	pipeline := generate.New(cat, datasets, acq, generate.Options{
		Logger:        appLog,
		Timeout:       cfg.Acquire.Timeout,
		MaxConcurrent: cfg.Acquire.MaxConcurrent,
	})

	h := api.New(cat, pipeline, datasets, api.Options{
		Logger:     appLog,
		Mapper:     h3mapper.New(),
		DefaultRes: cfg.H3Res,
		Views:      popularity.New(cfg.PopularityHL),
	})

	if err := server.Run(ctx, cfg, appLog, server.NewRouter(appLog, h, ready...)); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// recoverStorage removes abandoned staging files and reports datasets that no
// catalog entry references. Orphans are logged, never deleted.
func recoverStorage(ctx context.Context, log *slog.Logger, cfg config.Config, files *datastore.Store, cat *catalog.Catalog) {
	if n, err := files.SweepStaging(cfg.StagingMaxAge); err != nil {
		log.Warn("staging sweep failed", "err", err)
	} else if n > 0 {
		log.Info("removed stale staging files", "count", n)
	}

	ids, err := cat.IDs(ctx)
	if err != nil {
		log.Warn("orphan scan skipped", "err", err)
		return
	}
	orphans, err := files.Orphans(ids)
	if err != nil {
		log.Warn("orphan scan failed", "err", err)
		return
	}
	if len(orphans) > 0 {
		log.Warn("datasets without catalog entry", "ids", orphans)
	}
}
