// Package main wires together the planning-case pipeline service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/api"
	"github.com/civicsignal/permitpipe/internal/clock/system"
	"github.com/civicsignal/permitpipe/internal/config"
	"github.com/civicsignal/permitpipe/internal/convert"
	"github.com/civicsignal/permitpipe/internal/coordinator"
	"github.com/civicsignal/permitpipe/internal/dispatcher"
	"github.com/civicsignal/permitpipe/internal/extract"
	"github.com/civicsignal/permitpipe/internal/fetch"
	"github.com/civicsignal/permitpipe/internal/geocode/arcgis"
	"github.com/civicsignal/permitpipe/internal/geocode/google"
	"github.com/civicsignal/permitpipe/internal/id/uuid"
	"github.com/civicsignal/permitpipe/internal/ingest"
	"github.com/civicsignal/permitpipe/internal/logging"
	"github.com/civicsignal/permitpipe/internal/metrics"
	"github.com/civicsignal/permitpipe/internal/pipeline"
	queueMemory "github.com/civicsignal/permitpipe/internal/queue/memory"
	queuePubsub "github.com/civicsignal/permitpipe/internal/queue/pubsub"
	"github.com/civicsignal/permitpipe/internal/records"
	storeMemory "github.com/civicsignal/permitpipe/internal/store/memory"
	storePostgres "github.com/civicsignal/permitpipe/internal/store/postgres"
	"github.com/civicsignal/permitpipe/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, cleanupStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanupStore()

	queue, cleanupQueue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanupQueue()

	geocoder := buildGeocoder(cfg)

	clock := system.New()
	idGen := uuid.NewUUIDGenerator()
	tracker := pipeline.NewBatchTracker()
	retry := pipeline.NewExponentialRetryPolicy(cfg.Pipeline.MaxAttempts)
	runner := convert.NewExecRunner(logger.Named("tools"))

	contentClient := &http.Client{Timeout: time.Duration(cfg.Content.TimeoutSeconds) * time.Second}
	fetcher := fetch.New(store, contentClient, cfg.Content.Root, logger.Named("fetch"))
	textExtractor := convert.NewTextExtractor(store, runner, cfg.Convert.Pdftotext, cfg.Convert.TextEncoding, logger.Named("text"))
	imageFilter := convert.MinDimensionsFilter(cfg.Convert.MinImageWidth, cfg.Convert.MinImageHeight)
	imageExtractor := convert.NewImageExtractor(store, runner, idGen, cfg.Convert.Pdfimages, imageFilter, logger.Named("images"))
	docThumbnailer := convert.NewDocThumbnailer(store, runner, cfg.Convert.Pdftoppm, cfg.Convert.ThumbnailScaleTo, logger.Named("docthumb"))
	imageThumbnailer := convert.NewImageThumbnailer(store, cfg.Convert.ImageThumbnailDim, logger.Named("imagethumb"))
	attrExtractor := extract.New(store, clock, nil, logger.Named("attrs"))

	var workers []*worker.Worker
	for i := 0; i < cfg.Pipeline.Concurrency; i++ {
		workers = append(workers, worker.New(worker.Deps{
			Queue:          queue,
			Store:          store,
			Tracker:        tracker,
			Retry:          retry,
			Clock:          clock,
			Fetcher:        fetcher,
			TextExtractor:  textExtractor,
			ImageExtractor: imageExtractor,
			DocThumbnailer: docThumbnailer,
			ImageThumb:     imageThumbnailer,
			Attributes:     attrExtractor,
			Logger:         logger.Named("worker").With(zap.Int("index", i)),
		}))
	}
	dispatch := dispatcher.New(queue, workers)
	go dispatch.Run(ctx)

	ingestClient := &http.Client{Timeout: time.Duration(cfg.Ingest.TimeoutSeconds) * time.Second}
	source := records.New(ingestClient, cfg.Ingest.RecordURL, logger.Named("records"))
	upserter := ingest.New(store, clock, idGen, cfg.Ingest.SourceURL, logger.Named("ingest"))

	coord := coordinator.New(coordinator.Deps{
		Store:    store,
		Source:   source,
		Geocoder: geocoder,
		Upserter: upserter,
		Queue:    queue,
		Tracker:  tracker,
		Clock:    clock,
		IDs:      idGen,
		Logger:   logger.Named("coordinator"),
	})

	sched, err := coordinator.Schedule(ctx, coord, cfg.Schedule.Scrape, cfg.Schedule.Recover, logger.Named("cron"))
	if err != nil {
		return err
	}
	defer sched.Stop()

	apiServer := api.NewServer(store, coord, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (pipeline.Store, func(), error) {
	switch cfg.Store.Provider {
	case "postgres":
		pg, err := storePostgres.New(ctx, storePostgres.Config{
			DSN:      cfg.Store.DSN,
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Store.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				pg.Close()
				return nil, nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		return pg, pg.Close, nil
	default:
		return storeMemory.New(), func() {}, nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Queue, func(), error) {
	switch cfg.Queue.Provider {
	case "pubsub":
		q, err := queuePubsub.New(ctx, queuePubsub.Config{
			ProjectID:    cfg.Queue.ProjectID,
			TopicID:      cfg.Queue.TopicID,
			Subscription: cfg.Queue.Subscription,
		}, logger.Named("pubsub"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect pubsub: %w", err)
		}
		return q, func() {
			if err := q.Close(); err != nil {
				logger.Warn("closing pubsub queue", zap.Error(err))
			}
		}, nil
	default:
		q := queueMemory.New(cfg.Queue.Depth)
		return q, q.Close, nil
	}
}

func buildGeocoder(cfg config.Config) pipeline.Geocoder {
	switch cfg.Geocoder.Provider {
	case "google":
		opts := []google.Option{}
		if cfg.Geocoder.Region != "" {
			opts = append(opts, google.WithRegion(cfg.Geocoder.Region))
		}
		if cfg.Geocoder.Bounds != "" {
			opts = append(opts, google.WithBounds(cfg.Geocoder.Bounds))
		}
		return google.New(cfg.Geocoder.APIKey, opts...)
	default:
		return arcgis.New(cfg.Geocoder.ClientID, cfg.Geocoder.ClientSecret)
	}
}
