// Пакет config — загрузка и валидация конфигурации Media Store
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Media Store.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корневая директория хранения rendition-файлов (обязательный параметр).
	// Директория создаётся синхронно при старте; ошибка создания — ошибка старта.
	StorageRoot string

	// Параметры подключения к PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Максимальное количество соединений пула PostgreSQL
	DBMaxConns int
	// Минимальное количество поддерживаемых соединений пула
	DBMinConns int
	// Таймаут проверки доступности базы при старте
	DBConnectTimeout time.Duration

	// URL JWKS endpoint для валидации JWT (опционально; без него
	// сервис стартует без аутентификации — только для разработки)
	JWKSUrl string

	// Максимальное количество файлов в одном запросе загрузки
	MaxUploadFiles int
	// Максимальный размер одного файла в байтах
	MaxUploadSize int64
	// Максимальное количество записей на аккаунт (квота)
	MaxFilesPerAccount int

	// Количество повторов удаления директории записи
	ReclaimRetries int
	// Размер очереди задач фонового удаления
	ReclaimQueueSize int

	// Интервал reconciliation sweep
	ReconcileInterval time.Duration
	// Возраст, после которого незакоммиченная запись считается осиротевшей
	ReconcileGrace time.Duration

	// Размер LRU-кэша метаданных
	CacheSize int
	// TTL записи в кэше метаданных
	CacheTTL time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя вершины графа приложения в метриках topologymetrics
	ServiceID string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// MS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("MS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("MS_PORT: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("MS_PORT: значение %d вне допустимого диапазона", cfg.Port)
	}

	// MS_STORAGE_ROOT — обязательный
	cfg.StorageRoot, err = getEnvRequired("MS_STORAGE_ROOT")
	if err != nil {
		return nil, err
	}

	// Параметры PostgreSQL
	cfg.DBHost = getEnvDefault("MS_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("MS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("MS_DB_PORT: %w", err)
	}
	cfg.DBUser, err = getEnvRequired("MS_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("MS_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBName, err = getEnvRequired("MS_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("MS_DB_SSLMODE", "disable")

	// MS_DB_POOL_MAX_CONNS — максимум соединений пула (по умолчанию 10)
	cfg.DBMaxConns, err = getEnvInt("MS_DB_POOL_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("MS_DB_POOL_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns <= 0 {
		return nil, fmt.Errorf("MS_DB_POOL_MAX_CONNS: значение должно быть положительным")
	}

	// MS_DB_POOL_MIN_CONNS — минимум поддерживаемых соединений (по умолчанию 2)
	cfg.DBMinConns, err = getEnvInt("MS_DB_POOL_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("MS_DB_POOL_MIN_CONNS: %w", err)
	}
	if cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("MS_DB_POOL_MIN_CONNS: значение вне диапазона 0..%d", cfg.DBMaxConns)
	}

	// MS_DB_CONNECT_TIMEOUT — таймаут проверки доступности базы при старте (по умолчанию 5s)
	cfg.DBConnectTimeout, err = getEnvDuration("MS_DB_CONNECT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MS_DB_CONNECT_TIMEOUT: %w", err)
	}

	// MS_JWKS_URL — опциональный
	cfg.JWKSUrl = getEnvDefault("MS_JWKS_URL", "")

	// MS_MAX_UPLOAD_FILES — максимум файлов в запросе (по умолчанию 10)
	cfg.MaxUploadFiles, err = getEnvInt("MS_MAX_UPLOAD_FILES", 10)
	if err != nil {
		return nil, fmt.Errorf("MS_MAX_UPLOAD_FILES: %w", err)
	}
	if cfg.MaxUploadFiles <= 0 {
		return nil, fmt.Errorf("MS_MAX_UPLOAD_FILES: значение должно быть положительным")
	}

	// MS_MAX_UPLOAD_SIZE — максимальный размер файла (по умолчанию 40 MB)
	cfg.MaxUploadSize, err = getEnvInt64("MS_MAX_UPLOAD_SIZE", 1024*1024*10*4)
	if err != nil {
		return nil, fmt.Errorf("MS_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("MS_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}

	// MS_MAX_FILES_PER_ACCOUNT — квота на аккаунт (по умолчанию 100)
	cfg.MaxFilesPerAccount, err = getEnvInt("MS_MAX_FILES_PER_ACCOUNT", 100)
	if err != nil {
		return nil, fmt.Errorf("MS_MAX_FILES_PER_ACCOUNT: %w", err)
	}
	if cfg.MaxFilesPerAccount <= 0 {
		return nil, fmt.Errorf("MS_MAX_FILES_PER_ACCOUNT: значение должно быть положительным")
	}

	// MS_RECLAIM_RETRIES — повторы удаления директории (по умолчанию 2)
	cfg.ReclaimRetries, err = getEnvInt("MS_RECLAIM_RETRIES", 2)
	if err != nil {
		return nil, fmt.Errorf("MS_RECLAIM_RETRIES: %w", err)
	}
	if cfg.ReclaimRetries < 0 {
		return nil, fmt.Errorf("MS_RECLAIM_RETRIES: значение не может быть отрицательным")
	}

	// MS_RECLAIM_QUEUE_SIZE — размер очереди фонового удаления (по умолчанию 128)
	cfg.ReclaimQueueSize, err = getEnvInt("MS_RECLAIM_QUEUE_SIZE", 128)
	if err != nil {
		return nil, fmt.Errorf("MS_RECLAIM_QUEUE_SIZE: %w", err)
	}
	if cfg.ReclaimQueueSize <= 0 {
		return nil, fmt.Errorf("MS_RECLAIM_QUEUE_SIZE: значение должно быть положительным")
	}

	// MS_RECONCILE_INTERVAL — интервал сверки (по умолчанию 1h)
	cfg.ReconcileInterval, err = getEnvDuration("MS_RECONCILE_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("MS_RECONCILE_INTERVAL: %w", err)
	}

	// MS_RECONCILE_GRACE — возраст осиротевшей записи (по умолчанию 1h)
	cfg.ReconcileGrace, err = getEnvDuration("MS_RECONCILE_GRACE", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("MS_RECONCILE_GRACE: %w", err)
	}

	// MS_CACHE_SIZE — размер LRU-кэша метаданных (по умолчанию 1024)
	cfg.CacheSize, err = getEnvInt("MS_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("MS_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("MS_CACHE_SIZE: значение должно быть положительным")
	}

	// MS_CACHE_TTL — TTL кэша метаданных (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("MS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MS_CACHE_TTL: %w", err)
	}

	// MS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MS_LOG_LEVEL: %w", err)
	}

	// MS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("MS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// MS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("MS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// MS_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("MS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// MS_DEPHEALTH_GROUP — имя группы в метриках topologymetrics
	cfg.DephealthGroup = getEnvDefault("MS_DEPHEALTH_GROUP", "mediastore")

	// MS_SERVICE_ID — имя вершины графа приложения
	cfg.ServiceID = getEnvDefault("MS_SERVICE_ID", "mediastore")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
