// Package main запускает локальный HTTP-сервер cardbook.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/cardbook/internal/catalog"
	"github.com/mmeshcher/cardbook/internal/config"
	"github.com/mmeshcher/cardbook/internal/events"
	"github.com/mmeshcher/cardbook/internal/handler"
	"github.com/mmeshcher/cardbook/internal/middleware"
	"github.com/mmeshcher/cardbook/internal/renewal"
	"github.com/mmeshcher/cardbook/internal/repository"
	"github.com/mmeshcher/cardbook/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	loc, err := cfg.Location()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repository.Open(ctx, cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	engine := renewal.NewEngine(loc, nil)

	cat, err := catalog.New(engine, logger)
	if err != nil {
		sugar.Fatalw("catalog initialization error", "error", err.Error())
	}
	if cfg.CatalogPath != "" {
		if err := cat.LoadFile(cfg.CatalogPath); err != nil {
			// встроенный справочник остаётся в силе
			sugar.Warnw("catalog file not loaded", "path", cfg.CatalogPath, "error", err.Error())
		}
	}

	bus := events.NewBus(logger)
	svc := service.NewService(store, engine, cat, bus, logger)
	defer func() {
		if err := svc.Close(); err != nil {
			sugar.Errorw("close service", "error", err.Error())
		}
	}()

	hub := handler.NewHub(bus, logger)
	defer hub.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, cat, engine, logger, authMiddleware)
	h.SetEventHub(hub)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Проход продления при запуске
	g.Go(func() error {
		res := <-svc.Activate(ctx)
		if res.Err != nil {
			sugar.Warnw("launch renewal pass failed", "error", res.Err.Error())
			return nil
		}
		sugar.Infow("launch renewal pass finished",
			"checked", res.Report.Checked,
			"renewed", res.Report.Renewed,
		)
		return nil
	})

	if cfg.CatalogURL != "" {
		g.Go(func() error {
			if err := cat.Refresh(ctx, catalog.NewClient(cfg.CatalogURL)); err != nil && !errors.Is(err, context.Canceled) {
				sugar.Warnw("catalog refresh skipped", "url", cfg.CatalogURL, "error", err.Error())
			}
			return nil
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting cardbook server", "addr", cfg.RunAddress, "database", cfg.DatabaseURI)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}
