package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/flowmap/internal/cache"
	"github.com/mohammed-shakir/flowmap/internal/cache/redisstore"
	"github.com/mohammed-shakir/flowmap/internal/core/config"
	"github.com/mohammed-shakir/flowmap/internal/core/health"
	"github.com/mohammed-shakir/flowmap/internal/core/httpclient"
	"github.com/mohammed-shakir/flowmap/internal/core/observability"
	"github.com/mohammed-shakir/flowmap/internal/core/router"
	"github.com/mohammed-shakir/flowmap/internal/core/server"
	"github.com/mohammed-shakir/flowmap/internal/dashboard"
	"github.com/mohammed-shakir/flowmap/internal/dataset"
	"github.com/mohammed-shakir/flowmap/internal/fetch"
	"github.com/mohammed-shakir/flowmap/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/flowmap/internal/invalidation/kafkaproducer"
	"github.com/mohammed-shakir/flowmap/internal/logger"
	"github.com/mohammed-shakir/flowmap/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	cfg := config.FromEnv()

	flag.Usage = usage

	// flags override the environment
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flag.StringVar(&cfg.Source.Name, "dataset", cfg.Source.Name, "dataset name")
	flag.StringVar(&cfg.Source.RasterPath, "raster", cfg.Source.RasterPath, "flow accumulation raster (.tif, .asc, .asc.gz)")
	flag.StringVar(&cfg.Source.BoundaryPath, "boundary", cfg.Source.BoundaryPath, "watershed boundary (.shp, .geojson)")
	mode := flag.String("mode", string(cfg.Source.Mode), "source mode: local or remote")
	flag.Parse()
	cfg.Source.Mode = dataset.Mode(strings.ToLower(strings.TrimSpace(*mode)))
	if cfg.Build.Version == "dev" {
		cfg.Build.Version = Version
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Dataset:   cfg.Source.Name,
		Component: "flowmap-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 2
	}
	observability.SetDataset(cfg.Source.Name)
	appLog.Info("starting flowmap-server",
		"addr", cfg.Addr,
		"version", cfg.Build.Version,
		"dataset", cfg.Source.Name,
		"mode", string(cfg.Source.Mode),
		"redis", cfg.RedisEnabled,
		"reload_events", cfg.Reload.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var checks []health.Check
	var remote cache.Interface
	if cfg.RedisEnabled {
		rc, err := redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithReadTimeout(cfg.CacheOpTimeout),
			redisstore.WithWriteTimeout(cfg.CacheOpTimeout))
		if err != nil {
			appLog.Error("redis unavailable", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		remote = rc
		checks = append(checks, health.Check{Name: "redis", Fn: rc.Ping})
	}
	artifacts := cache.New(cache.Config{
		LRUSize:   cfg.CacheLRUSize,
		TTL:       cfg.CacheTTL,
		OpTimeout: cfg.CacheOpTimeout,
	}, remote, appLog)

	dl := fetch.New(appLog, httpclient.NewOutbound(0))
	svc := dashboard.New(dashboard.Config{
		H3Res:      cfg.H3Res,
		MinRes:     cfg.H3ResMin,
		MaxRes:     cfg.H3ResMax,
		MaxCells:   cfg.HexbinMaxCells,
		Defaults:   cfg.Defaults,
		MaxRenders: int64(cfg.MaxRenders),
	}, dataset.NewLoader(cfg.Source, dl, appLog), artifacts, appLog)

	// a failed first load keeps the server up and not ready; POST /api/reload
	// or a reload event can recover it
	if _, err := svc.Reload(ctx); err != nil {
		appLog.Error("initial dataset load failed", "err", err)
	}

	if cfg.Reload.Enabled {
		kc := kafkaconsumer.FromEnv()
		kc.Brokers, kc.Topic, kc.GroupID = cfg.Reload.Brokers, cfg.Reload.Topic, cfg.Reload.GroupID
		kc.Instance = cfg.Reload.Instance
		cons := kafkaconsumer.New(kc, &zl, svc, cfg.Source.Name)
		checks = append(checks, health.Reporter("kafka", cons))
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("reload consumer stopped", "err", err)
			}
		}()
	}

	var announcer router.Announcer
	if cfg.Reload.Publish {
		pub, err := kafkaproducer.New(kafkaproducer.Config{
			Brokers:  cfg.Reload.Brokers,
			Topic:    cfg.Reload.Topic,
			Instance: cfg.Reload.Instance,
		}, appLog)
		if err != nil {
			appLog.Error("reload publisher unavailable", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		announcer = pub
	}

	var metricsHandler http.Handler
	if cfg.Metrics {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Path:    cfg.MetricsPath,
			Build: metrics.BuildInfo{
				Version:   cfg.Build.Version,
				Revision:  cfg.Build.Revision,
				Branch:    cfg.Build.Branch,
				BuildDate: cfg.Build.BuildDate,
			},
		})
		metricsHandler = p.Handler()
		cfg.MetricsPath = p.Path()
	}

	h := router.New(router.Deps{
		Layers:      svc,
		Announcer:   announcer,
		Map:         cfg.Map,
		H3Res:       cfg.H3Res,
		Logger:      appLog,
		Metrics:     metricsHandler,
		MetricsPath: cfg.MetricsPath,
		Checks:      checks,
	})
	if err := server.Run(ctx, cfg.Addr, h, appLog); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped", "uptime", time.Since(start).String())
	return 0
}

func usage() {
	_, _ = fmt.Fprintf(flag.CommandLine.Output(), "usage: flowmap-server [flags]\n\nEnvironment variables configure everything; flags override a few.\n\n")
	flag.PrintDefaults()
}
