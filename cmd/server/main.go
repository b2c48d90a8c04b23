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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/maynagashev/pereval/internal/config"
	"github.com/maynagashev/pereval/internal/handlers"
	"github.com/maynagashev/pereval/internal/logger"
	"github.com/maynagashev/pereval/internal/metrics"
	"github.com/maynagashev/pereval/internal/repository"
	"github.com/maynagashev/pereval/internal/services"
	"github.com/maynagashev/pereval/internal/storage"
	"github.com/maynagashev/pereval/internal/validation"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// dependencies хранит инициализированные зависимости сервера.
type dependencies struct {
	connector *repository.Connector
	service   *services.Perevals
	handler   *handlers.PerevalHandler
	metrics   *metrics.Recorder
}

// openArchive создает архив изображений. Переменная для подмены в тестах.
var openArchive = func(ctx context.Context, cfg storage.MinioConfig) (storage.ImageArchive, error) {
	return storage.NewMinioArchive(ctx, cfg)
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	if err := run(os.Args[1:]); err != nil {
		logrus.Errorf("Ошибка выполнения сервера: %v", err)
		os.Exit(1)
	}
}

// run содержит основную логику запуска сервера и возвращает ошибку.
func run(args []string) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err = logger.Init(cfg.LogLevel); err != nil {
		return err
	}
	logrus.Info("Запуск сервера Pereval...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setupDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer func() {
		deps.service.Wait()
		if closeErr := deps.connector.Close(); closeErr != nil {
			logrus.Errorf("Ошибка закрытия соединения с БД: %v", closeErr)
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      setupRouter(deps.handler, deps.metrics),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSEnabled() {
			logrus.Infof("Запуск HTTPS-сервера на порту %s (сертификат: %s)", cfg.Port, cfg.CertFile)
			errCh <- server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
			return
		}
		logrus.Infof("Запуск HTTP-сервера на порту %s", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка запуска сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logrus.Info("Получен сигнал остановки, завершаем обработку запросов...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	return nil
}

// setupDependencies подключается к БД, применяет схему и собирает сервис и обработчики.
func setupDependencies(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	deps := &dependencies{
		connector: repository.NewConnector(cfg.DBDriver, cfg.DSN()),
		metrics:   metrics.New(),
	}

	db, err := deps.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
	}
	if err = repository.EnsureSchema(ctx, db); err != nil {
		_ = deps.connector.Close()
		return nil, err
	}
	logrus.Infof("Соединение с БД (%s) установлено, схема готова.", cfg.DBDriver)

	opts := []services.Option{services.WithMetrics(deps.metrics)}
	if cfg.ArchiveEnabled() {
		archive, archiveErr := openArchive(ctx, cfg.Minio())
		if archiveErr != nil {
			// Архив вспомогательный: без него сервис работает
			logrus.Warnf("Архив изображений недоступен: %v", archiveErr)
		} else {
			opts = append(opts, services.WithArchive(archive))
		}
	}

	validator, err := validation.New()
	if err != nil {
		_ = deps.connector.Close()
		return nil, fmt.Errorf("ошибка загрузки схем валидации: %w", err)
	}

	repo, err := repository.NewConnectedPerevalRepository(deps.connector)
	if err != nil {
		_ = deps.connector.Close()
		return nil, err
	}
	deps.service = services.NewPerevalService(repo, opts...)
	deps.handler = handlers.NewPerevalHandler(deps.service, validator, handlers.WithMetrics(deps.metrics))
	return deps, nil
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(h *handlers.PerevalHandler, rec *metrics.Recorder) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger())
	r.Use(middleware.Recoverer)
	r.Use(rec.Middleware)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})
	r.Method(http.MethodGet, "/metrics", rec.Handler())

	r.Route("/submitData", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Get("/", h.ListByEmail)
		r.Get("/{id}", h.GetByID)
		r.Patch("/{id}", h.Update)
	})
	return r
}
