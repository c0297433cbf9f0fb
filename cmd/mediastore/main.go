// Точка входа Media Store — сервиса загрузки и отдачи изображений.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/arturkryukov/mediastore/internal/api/handlers"
	"github.com/arturkryukov/mediastore/internal/api/middleware"
	"github.com/arturkryukov/mediastore/internal/config"
	"github.com/arturkryukov/mediastore/internal/database"
	"github.com/arturkryukov/mediastore/internal/repository"
	"github.com/arturkryukov/mediastore/internal/server"
	"github.com/arturkryukov/mediastore/internal/service"
	"github.com/arturkryukov/mediastore/internal/storage/filestore"
	"github.com/arturkryukov/mediastore/internal/storage/paths"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Media Store запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_root", cfg.StorageRoot),
	)

	// --- Инициализация компонентов ---

	ctx := context.Background()

	// 1. Файловое хранилище: корень создаётся синхронно при старте,
	// ошибка создания — ошибка старта.
	store, err := filestore.New(cfg.StorageRoot)
	if err != nil {
		logger.Error("Ошибка инициализации файлового хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	resolver := paths.NewResolver(cfg.StorageRoot)

	// 2. PostgreSQL: подключение и миграции
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	repo := repository.NewMediaRepository(pool)

	// 3. Сервисы
	uploadSvc := service.NewUploadService(repo, store, resolver, cfg.MaxFilesPerAccount, logger)
	retrievalSvc := service.NewRetrievalService(repo, store, resolver, cfg.CacheSize, cfg.CacheTTL, logger)

	// 4. Фоновые процессы

	// 4.1 Воркер освобождения директорий удалённых записей
	reclaimer := service.NewReclaimer(store, cfg.ReclaimRetries, cfg.ReclaimQueueSize, logger)
	reclaimer.Start(ctx)

	deletionSvc := service.NewDeletionService(repo, resolver, reclaimer, retrievalSvc, logger)

	// 4.2 Reconciliation — уборка записей, застрявших вне committed
	reconcileSvc := service.NewReconcileService(repo, store, resolver, cfg.ReconcileInterval, cfg.ReconcileGrace, logger)
	reconcileSvc.Start(ctx)

	// 4.3 topologymetrics — мониторинг зависимостей.
	// pgcheck работает через *sql.DB поверх существующего pgxpool.
	sqlDB := stdlib.OpenDBFromPool(pool)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		cfg.ServiceID,
		cfg.DephealthGroup,
		sqlDB,
		cfg.DatabaseDSN(),
		cfg.JWKSUrl,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 5. Handlers
	mediaHandler := handlers.NewMediaHandler(uploadSvc, retrievalSvc, deletionSvc, cfg.MaxUploadFiles, cfg.MaxUploadSize, cfg.MaxFilesPerAccount)
	healthHandler := handlers.NewHealthHandler(cfg.StorageRoot, database.NewReadinessChecker(pool))

	// 6. JWT middleware
	var auth handlers.AuthMiddleware
	if cfg.JWKSUrl != "" {
		jwtAuth, jwtErr := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			ClientTimeout:   10 * time.Second,
			RefreshInterval: time.Hour,
			JWTLeeway:       time.Minute,
		}, logger)
		if jwtErr != nil {
			logger.Error("Ошибка настройки JWT аутентификации",
				slog.String("jwks_url", cfg.JWKSUrl),
				slog.String("error", jwtErr.Error()),
			)
			os.Exit(1)
		}
		auth = jwtAuth
		logger.Info("JWT аутентификация настроена",
			slog.String("jwks_url", cfg.JWKSUrl),
		)
	} else {
		logger.Warn("MS_JWKS_URL не задан, запуск без аутентификации")
	}

	// 7. Создание и запуск HTTP-сервера
	routes := handlers.Router(mediaHandler, healthHandler, auth)
	srv := server.New(cfg, logger, routes)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	reconcileSvc.Stop()
	reclaimer.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Media Store остановлен")
}
