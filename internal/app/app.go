// Package app initializes and holds the long-lived services shared by the
// CLI commands: logger, artifact storage, visit store, and the progress hub.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/config"
	"github.com/trychlos/TheToolsProject-sub002/internal/logging"
	"github.com/trychlos/TheToolsProject-sub002/internal/metrics"
	"github.com/trychlos/TheToolsProject-sub002/internal/progress"
	"github.com/trychlos/TheToolsProject-sub002/internal/progress/sinks"
	"github.com/trychlos/TheToolsProject-sub002/internal/storage"
	"github.com/trychlos/TheToolsProject-sub002/internal/store"
)

// App is the dependency container built once at startup.
type App struct {
	Cfg     config.Config
	Logger  *zap.Logger
	Storage storage.Provider
	Visits  store.VisitRepository
	Hub     *progress.Hub
	// Recent backs the status endpoint's live progress feed.
	Recent *sinks.MemorySink

	pubsubClient *pubsub.Client
	gcsClient    *gcs.Client
}

// New loads configuration and wires every provider it names. It fails fast:
// a misconfigured backend aborts startup instead of degrading silently.
// devLogging forces the development logger regardless of configuration.
func New(ctx context.Context, cfgPath string, devLogging bool) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development || devLogging)
	if err != nil {
		return nil, err
	}
	metrics.Init()

	a := &App{Cfg: cfg, Logger: logger}
	if err := a.setupStorage(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.setupStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.setupProgress(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	logger.Info("application services ready",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("db", cfg.DB.Provider),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)
	return a, nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.Cfg.Storage.Provider {
	case "local", "":
		provider, err := storage.NewLocal(a.Cfg.Storage.Root)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.Storage = provider
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		provider, err := storage.NewGCS(client, a.Cfg.Storage.GCSBucket, a.Cfg.Storage.Prefix)
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.Storage = provider
	case "memory":
		a.Storage = storage.NewMemory()
	case "noop":
		a.Storage = storage.NoOp{}
	default:
		return fmt.Errorf("unknown storage provider %q", a.Cfg.Storage.Provider)
	}
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.Cfg.DB.Provider {
	case "postgres":
		visits, err := store.NewPostgres(ctx, store.PostgresConfig{
			DSN:   a.Cfg.DB.DSN,
			Table: a.Cfg.DB.Table,
		})
		if err != nil {
			return fmt.Errorf("init visit store: %w", err)
		}
		a.Visits = visits
	case "noop", "":
		a.Visits = store.NoOp{}
	default:
		return fmt.Errorf("unknown db provider %q", a.Cfg.DB.Provider)
	}
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	a.Recent = sinks.NewMemorySink(0)
	sinkList := []progress.Sink{
		sinks.NewLogSink(a.Logger),
		a.Recent,
	}

	prom, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	sinkList = append(sinkList, prom)

	if a.Cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, a.Cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		a.pubsubClient = client
		sinkList = append(sinkList, sinks.NewPubSubSink(client.Topic(a.Cfg.PubSub.TopicName)))
	}

	a.Hub = progress.NewHub(progress.Config{Logger: a.Logger}, sinkList...)
	return nil
}

// Close flushes the hub and releases every client. Safe on a partially
// constructed App.
func (a *App) Close(ctx context.Context) {
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			a.Logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.Visits != nil {
		a.Visits.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
