// Package app assembles the application from configuration: logging,
// progress reporting, storage, sinks, and the crawl and analysis engines.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pwnlabs/gymscout/internal/analysis"
	"github.com/pwnlabs/gymscout/internal/api"
	"github.com/pwnlabs/gymscout/internal/browser"
	"github.com/pwnlabs/gymscout/internal/config"
	"github.com/pwnlabs/gymscout/internal/crawl"
	"github.com/pwnlabs/gymscout/internal/extract"
	"github.com/pwnlabs/gymscout/internal/progress"
	"github.com/pwnlabs/gymscout/internal/progress/sinks"
	"github.com/pwnlabs/gymscout/internal/publisher"
	"github.com/pwnlabs/gymscout/internal/publisher/memory"
	publisherpubsub "github.com/pwnlabs/gymscout/internal/publisher/pubsub"
	"github.com/pwnlabs/gymscout/internal/storage"
	"github.com/pwnlabs/gymscout/internal/storage/gcs"
	"github.com/pwnlabs/gymscout/internal/storage/local"
	"github.com/pwnlabs/gymscout/internal/ticket"
)

// App holds every long-lived component of a run. Build it with New and
// release resources with Close.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger
	Hub    *progress.Hub
	Status *api.StatusStore

	Registry *prometheus.Registry
	Store    storage.BlobStore
	Sink     ticket.Sink
	Pub      publisher.Publisher

	httpServer *http.Server
	gcsClient  *gcstorage.Client
	factory    *browser.ChromedpFactory
}

// New builds the container. Components are constructed eagerly so that
// misconfiguration surfaces before the crawl starts.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Cfg:      cfg,
		Logger:   logger,
		Status:   api.NewStatusStore(),
		Registry: prometheus.NewRegistry(),
	}

	promSink, err := sinks.NewPrometheusSink(a.Registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.Hub = progress.NewHub(
		progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		promSink,
	)

	if a.Store, err = a.buildStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if a.Sink, err = a.buildTicketSink(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if a.Pub, err = a.buildPublisher(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if cfg.Server.Enabled {
		srv := api.NewServer(a.Status, a.Registry, logger)
		a.httpServer = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("status server listening", zap.String("addr", cfg.Server.Addr))
			if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	return a, nil
}

func (a *App) buildStore(ctx context.Context) (storage.BlobStore, error) {
	switch a.Cfg.Storage.Provider {
	case "local", "":
		return local.New(a.Cfg.Storage.Local)
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.gcsClient = client
		return gcs.New(ctx, client, a.Cfg.Storage.GCS)
	case "noop":
		return storage.NoopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", a.Cfg.Storage.Provider)
	}
}

func (a *App) buildTicketSink(ctx context.Context) (ticket.Sink, error) {
	switch a.Cfg.Tickets.Sink {
	case "fs", "":
		return ticket.NewFSSink(a.Cfg.Tickets.Dir)
	case "postgres":
		return ticket.NewPostgresSink(ctx, a.Cfg.Tickets.Postgres)
	default:
		return nil, fmt.Errorf("unknown ticket sink %q", a.Cfg.Tickets.Sink)
	}
}

func (a *App) buildPublisher(ctx context.Context) (publisher.Publisher, error) {
	switch a.Cfg.Publisher.Provider {
	case "none", "":
		return publisher.Noop{}, nil
	case "memory":
		return memory.New(), nil
	case "pubsub":
		client, err := gpubsub.NewClient(ctx, a.Cfg.Publisher.Project)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		pub, err := publisherpubsub.New(client, a.Cfg.Publisher.Topic)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publisher provider %q", a.Cfg.Publisher.Provider)
	}
}

// Engine builds the crawl engine, starting the shared browser allocator.
func (a *App) Engine() (*crawl.Engine, error) {
	factory, err := browser.NewChromedpFactory(browser.Config{
		UserAgent:         a.Cfg.Platform.UserAgent,
		LoginURL:          a.Cfg.Platform.LoginURL,
		NavigationTimeout: a.Cfg.Platform.NavigationTimeout,
		Credentials: browser.Credentials{
			Username: a.Cfg.Platform.Username,
			Password: a.Cfg.Platform.Password,
		},
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("browser factory: %w", err)
	}
	a.factory = factory

	extractor, err := extract.NewOpenRouterExtractor(extract.OpenRouterConfig{
		APIKey:         a.Cfg.Extractor.APIKey,
		BaseURL:        a.Cfg.Extractor.BaseURL,
		Model:          a.Cfg.Extractor.Model,
		CallsPerMinute: a.Cfg.Extractor.CallsPerMinute,
		RequestTimeout: a.Cfg.Extractor.RequestTimeout,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}

	retry := crawl.NewRetryPolicy(
		a.Cfg.Crawler.MaxRetries,
		a.Cfg.Crawler.RetryBaseDelay,
		a.Cfg.Crawler.RetryMaxDelay,
	)
	return crawl.NewEngine(
		crawl.Config{MaxWorkers: a.Cfg.Crawler.MaxWorkers},
		factory,
		a.Store,
		extractor,
		retry,
		a.Hub,
		a.Logger,
	)
}

// Orchestrator builds the analysis phase against the configured models.
func (a *App) Orchestrator() (*analysis.Orchestrator, error) {
	client, err := analysis.NewClient(analysis.ClientConfig{
		APIKey:         a.Cfg.Analysis.APIKey,
		BaseURL:        a.Cfg.Analysis.BaseURL,
		GeneratorModel: a.Cfg.Analysis.GeneratorModel,
		EvaluatorModel: a.Cfg.Analysis.EvaluatorModel,
		CallsPerMinute: a.Cfg.Analysis.CallsPerMinute,
		RequestTimeout: a.Cfg.Analysis.RequestTimeout,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("analysis client: %w", err)
	}

	return analysis.NewOrchestrator(
		analysis.OrchestratorConfig{
			MaxConcurrent: a.Cfg.Analysis.MaxConcurrent,
			Flow: analysis.FlowConfig{
				MaxIterations: a.Cfg.Analysis.MaxIterations,
				StepAttempts:  a.Cfg.Analysis.StepAttempts,
				StepBaseDelay: a.Cfg.Analysis.StepBaseDelay,
			},
			KeepExhausted:   a.Cfg.Analysis.KeepExhausted,
			CompletionTopic: a.Cfg.Analysis.CompletionTopic,
		},
		analysis.NewRegistry(client),
		analysis.NewOpenRouterEvaluator(client),
		a.Sink,
		a.Pub,
		a.Hub,
		a.Logger,
	)
}

// Close shuts the container down in reverse construction order.
func (a *App) Close(ctx context.Context) {
	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("status server shutdown", zap.Error(err))
		}
		cancel()
	}
	if a.factory != nil {
		if err := a.factory.Close(ctx); err != nil {
			a.Logger.Warn("browser factory close", zap.Error(err))
		}
	}
	if a.Sink != nil {
		a.Sink.Close()
	}
	if closer, ok := a.Pub.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("publisher close", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("gcs client close", zap.Error(err))
		}
	}
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			a.Logger.Warn("progress hub close", zap.Error(err))
		}
	}
}
