package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/landmarkops/delivery-notes/internal/async"
	"github.com/landmarkops/delivery-notes/internal/common"
	"github.com/landmarkops/delivery-notes/internal/docintel"
	"github.com/landmarkops/delivery-notes/internal/export"
	"github.com/landmarkops/delivery-notes/internal/mapper"
	"github.com/landmarkops/delivery-notes/internal/notes"
	"github.com/landmarkops/delivery-notes/internal/repository"
	"github.com/landmarkops/delivery-notes/internal/server"
	"github.com/landmarkops/delivery-notes/internal/whatsapp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := repository.HealthCheck(ctx, pool, cfg.Database.DialTimeout); err != nil {
		logger.Error("database health failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database health ok")

	notesRepo := repository.NewNoteRepository(pool, logger)
	capturesRepo := repository.NewCaptureRepository(pool, logger)
	driversRepo := repository.NewDriverRepository(pool, logger)

	extractor := docintel.NewClient(docintel.Config{
		Endpoint:     cfg.Extract.Endpoint,
		APIKey:       cfg.Extract.APIKey,
		ModelID:      cfg.Extract.ModelID,
		PollInterval: cfg.Extract.PollInterval,
		PollTimeout:  cfg.Extract.PollTimeout,
		MaxRetries:   cfg.Extract.MaxRetries,
	}, logger)

	sender := whatsapp.NewClient(whatsapp.Config{
		BaseURL:       cfg.Messaging.BaseURL,
		Token:         cfg.Messaging.Token,
		PhoneNumberID: cfg.Messaging.PhoneNumberID,
		Timeout:       cfg.Messaging.Timeout,
	}, logger)

	svc := notes.NewService(notesRepo, capturesRepo, driversRepo,
		extractor, mapper.New(logger), sender, logger)
	dispatcher := async.NewDispatcher(svc, logger,
		async.WithWorkers(cfg.Server.Workers),
		async.WithQueueSize(cfg.Server.QueueSize))
	svc.SetQueue(dispatcher)

	exportSvc := export.NewService(notesRepo, logger)

	srv := server.New(svc, exportSvc, notesRepo, capturesRepo,
		func(ctx context.Context) error {
			return repository.HealthCheck(ctx, pool, cfg.Database.DialTimeout)
		},
		server.NewMetrics(), logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// Stop taking requests first, then drain in-flight extractions.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		dispatcher.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
