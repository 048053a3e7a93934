package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UkralStul/threaded-comments/internal/api"
	"github.com/UkralStul/threaded-comments/internal/config"
	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/feed"
	"github.com/UkralStul/threaded-comments/internal/feed/redisfeed"
	"github.com/UkralStul/threaded-comments/internal/logging"
	"github.com/UkralStul/threaded-comments/internal/storage"
	"github.com/UkralStul/threaded-comments/internal/storage/inmemory"
	"github.com/UkralStul/threaded-comments/internal/storage/postgres"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	storageType := flag.String("storage", cfg.Storage, "Storage type (in-memory or postgres)")
	flag.Parse()
	cfg.Storage = *storageType

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store storage.Storage
	logger.Info("starting server", zap.String("storage", cfg.Storage), zap.String("env", cfg.GoEnv))
	if cfg.Storage == "postgres" {
		// В разработке пишем в лог каждый SQL-запрос
		pg, err := postgres.New(cfg.DatabaseURL, cfg.IsDevelopment())
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pg.Close()
		store = pg
	} else {
		store = inmemory.New()
		if cfg.SeedMockData {
			// Заполним данными для тестов
			if err := fillWithMockData(ctx, store, logger); err != nil {
				return err
			}
		}
	}

	var broker feed.Broker
	if cfg.RedisURL != "" {
		rb, err := redisfeed.New(cfg.RedisURL, logger.Named("redisfeed"))
		if err != nil {
			return err
		}
		defer rb.Close()
		broker = rb
		logger.Info("change feed shared through redis")
	} else {
		observer := feed.NewObserver(logger.Named("feed"))
		defer observer.Close()
		broker = observer
	}

	handler := api.NewHandler(store, broker, logger.Named("api"))
	handler.PingInterval = cfg.FeedPingInterval

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", "http://localhost"+srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func fillWithMockData(ctx context.Context, s storage.Storage, logger *zap.Logger) error {
	// 1. Создаем пост и явно включаем комментарии.
	subject, err := s.CreateSubject(ctx, &domain.Subject{
		Title:           "Тестовый пост о комментариях",
		Content:         "Это содержимое тестового поста. Здесь мы обсуждаем живые ветки комментариев и Go.",
		AuthorID:        "user-1",
		CommentsEnabled: true,
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: failed to create subject: %w", err)
	}

	// 2. Первый корневой комментарий.
	c1, err := s.CreateComment(ctx, &domain.Comment{
		SubjectID: subject.ID,
		AuthorID:  "user-2",
		Content:   "Отличный пост! Очень информативно.",
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: failed to create comment 1: %w", err)
	}

	// 3. Ответ на первый.
	reply, err := s.CreateComment(ctx, &domain.Comment{
		SubjectID: subject.ID,
		ParentID:  &c1.ID, // Указываем родителя
		AuthorID:  "user-1",
		Content:   "Спасибо! Рад, что вам понравилось.",
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: failed to create nested comment: %w", err)
	}

	// 4. Ответ на ответ: максимальная глубина, дальше отвечать нельзя.
	_, err = s.CreateComment(ctx, &domain.Comment{
		SubjectID: subject.ID,
		ParentID:  &reply.ID,
		AuthorID:  "user-2",
		Content:   "Пожалуйста!",
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: failed to create deep reply: %w", err)
	}

	// 5. Второй корневой комментарий с лайками.
	c2, err := s.CreateComment(ctx, &domain.Comment{
		SubjectID: subject.ID,
		AuthorID:  "user-3",
		Content:   "А как насчет производительности при большой вложенности?",
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: failed to create comment 2: %w", err)
	}
	for _, user := range []string{"user-1", "user-2"} {
		if _, err := s.LikeComment(ctx, c2.ID, user); err != nil {
			return fmt.Errorf("fillWithMockData: failed to like comment 2: %w", err)
		}
	}

	// 6. Еще один пост, но с выключенными комментариями для теста.
	disabled, err := s.CreateSubject(ctx, &domain.Subject{
		Title:           "Пост с выключенными комментариями",
		Content:         "К этому посту нельзя оставлять комментарии.",
		AuthorID:        "user-admin",
		CommentsEnabled: false,
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: failed to create disabled subject: %w", err)
	}

	logger.Info("mock data filled",
		zap.String("subject_id", subject.ID),
		zap.String("disabled_subject_id", disabled.ID),
	)
	return nil
}
