package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dealflow/aggregator"
	"dealflow/cache"
	"dealflow/config"
	"dealflow/logger"
	"dealflow/models"
	"dealflow/provider"
	"dealflow/provider/dealcrest"
	"dealflow/provider/scraperhub"
	"dealflow/provider/serplens"
	"dealflow/ratelimit"
	"dealflow/retry"
	"dealflow/usage"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Dealflow.Name,
		"version": cfg.Dealflow.Version,
	}).Info("starting dealflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Usage.CloudWatch {
		logger.InitCloudWatch(cfg.Usage.Region, cfg.Usage.Namespace)
	}
	logger.StartReport(ctx, log, 30*time.Second)

	registry, err := buildRegistry(cfg)
	if err != nil {
		log.WithError(err).Error("failed to build provider registry")
		os.Exit(1)
	}

	quotas := make(map[string]int)
	for _, name := range cfg.EnabledProviders() {
		quotas[name] = cfg.Providers[name].DailyQuota
	}

	tracker, err := usage.NewTracker(cfg)
	if err != nil {
		log.WithError(err).Error("failed to create usage tracker")
		os.Exit(1)
	}
	if err := tracker.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start usage tracker")
		os.Exit(1)
	}

	engine := aggregator.New(
		cfg,
		registry,
		cache.New(cfg.Cache),
		ratelimit.New(quotas),
		retry.NewExecutor(cfg.Retry),
		tracker,
	)

	log.WithFields(logger.Fields{
		"providers": registry.Names(),
		"queries":   len(cfg.Refresh.Queries),
	}).Info("all components started successfully")

	go refreshLoop(ctx, cfg, engine, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()
	tracker.Stop()
	log.Info("shutdown complete")
}

// buildRegistry assembles the static provider registry from configuration.
// Adding a provider is one registration call here.
func buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}

		var client provider.Client
		switch pc.Kind {
		case "serplens":
			client = serplens.NewClient(name, pc)
		case "dealcrest":
			client = dealcrest.NewClient(name, pc)
		case "scraperhub":
			client = scraperhub.NewClient(name, pc)
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", name, pc.Kind)
		}

		if err := registry.Register(client); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// refreshLoop periodically re-aggregates the configured catalog queries so
// cached results stay warm and the catalog stays fresh.
func refreshLoop(ctx context.Context, cfg *config.Config, engine *aggregator.Engine, log *logger.Log) {
	interval := cfg.Refresh.Interval
	if interval <= 0 || len(cfg.Refresh.Queries) == 0 {
		log.WithComponent("refresh").Info("catalog refresh disabled")
		return
	}

	runAll := func() {
		for _, spec := range cfg.Refresh.Queries {
			query := models.Query{
				Keyword:     spec.Keyword,
				Brand:       spec.Brand,
				Category:    spec.Category,
				MinDiscount: spec.MinDiscount,
				Limit:       spec.Limit,
			}
			result := engine.Aggregate(ctx, query, nil, "")
			log.WithComponent("refresh").WithFields(logger.Fields{
				"query":    query.Digest(),
				"products": len(result.Products),
				"failures": len(result.Errors),
			}).Info("catalog query refreshed")
		}
	}

	runAll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runAll()
		}
	}
}
