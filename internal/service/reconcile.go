// reconcile.go — сервис фоновой сверки (Reconciliation) метаданных и диска.
//
// Сверка работает в обе стороны:
//   - подбирает записи, застрявшие вне статуса committed дольше льготного
//     периода (прерванные загрузки, неудавшиеся записи файлов), удаляя
//     директорию на диске и саму запись из базы;
//   - удаляет осиротевшие директории, у которых не осталось строки в базе:
//     след отброшенных при переполнении очереди или окончательно
//     неудавшихся задач освобождения.
//
// Запускается как горутина с периодическим тикером (MS_RECONCILE_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/mediastore/internal/repository"
	"github.com/arturkryukov/mediastore/internal/storage/filestore"
	"github.com/arturkryukov/mediastore/internal/storage/paths"
)

// Prometheus-метрики сверки.
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ms_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	})

	reconcileReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ms_reconcile_reclaimed_total",
		Help: "Общее количество записей, убранных reconciliation",
	})

	reconcileOrphansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ms_reconcile_orphans_total",
		Help: "Общее количество осиротевших директорий, удалённых reconciliation",
	})

	reconcileErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ms_reconcile_errors_total",
		Help: "Общее количество ошибок reconciliation",
	})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ms_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconciliation в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// ReconcileResult — результат одного запуска сверки.
type ReconcileResult struct {
	// Reclaimed — количество убранных записей
	Reclaimed int
	// Orphans — количество удалённых осиротевших директорий
	Orphans int
	// Errors — количество ошибок при обработке записей
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// ReconcileService — сервис фоновой сверки.
type ReconcileService struct {
	repo     repository.MediaRepository
	store    *filestore.FileStore
	resolver *paths.Resolver
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
// grace — льготный период: записи моложе него не трогаются, даже если
// загрузка ещё не завершилась.
func NewReconcileService(
	repo repository.MediaRepository,
	store *filestore.FileStore,
	resolver *paths.Resolver,
	interval, grace time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		repo:     repo,
		store:    store,
		resolver: resolver,
		interval: interval,
		grace:    grace,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
// Вызывается один раз при старте приложения.
func (rc *ReconcileService) Start(ctx context.Context) {
	rcCtx, cancel := context.WithCancel(ctx)
	rc.cancel = cancel

	go rc.run(rcCtx)

	rc.logger.Info("Reconciliation запущен",
		slog.String("interval", rc.interval.String()),
		slog.String("grace", rc.grace.String()),
	)
}

// Stop останавливает фоновый процесс сверки.
func (rc *ReconcileService) Stop() {
	if rc.cancel != nil {
		rc.cancel()
	}
	rc.logger.Info("Reconciliation остановлен")
}

// run — основной цикл фоновой горутины.
func (rc *ReconcileService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	rc.RunOnce(ctx)

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл сверки.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (rc *ReconcileService) RunOnce(ctx context.Context) *ReconcileResult {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	start := time.Now()
	result := &ReconcileResult{}

	rc.logger.Debug("Reconciliation запуск начат")

	cutoff := time.Now().UTC().Add(-rc.grace)
	stale, err := rc.repo.ListStale(ctx, cutoff)
	if err != nil {
		reconcileErrorsTotal.Inc()
		rc.logger.Error("Ошибка выборки застрявших записей",
			slog.String("error", err.Error()),
		)
		result.Errors++
		result.Duration = time.Since(start)
		// Неудавшийся запуск тоже учитывается в метриках запусков.
		reconcileRunsTotal.Inc()
		reconcileDurationSeconds.Observe(result.Duration.Seconds())
		return result
	}

	for _, rec := range stale {
		dir := rc.resolver.RecordDir(rec.Extension, rec.Timestamp, rec.ID)
		if err := rc.store.RemoveTree(dir, 0); err != nil {
			reconcileErrorsTotal.Inc()
			rc.logger.Error("Ошибка удаления директории застрявшей записи",
				slog.Int64("media_id", rec.ID),
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		if _, err := rc.repo.Remove(ctx, rec.ID, rec.UserID); err != nil {
			reconcileErrorsTotal.Inc()
			rc.logger.Error("Ошибка удаления застрявшей записи из базы",
				slog.Int64("media_id", rec.ID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		reconcileReclaimedTotal.Inc()
		rc.logger.Info("Застрявшая запись убрана",
			slog.Int64("media_id", rec.ID),
			slog.String("status", string(rec.Status)),
		)
		result.Reclaimed++
	}

	rc.sweepOrphans(ctx, cutoff, result)

	result.Duration = time.Since(start)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(result.Duration.Seconds())

	rc.logger.Info("Reconciliation завершён",
		slog.Int("reclaimed", result.Reclaimed),
		slog.Int("orphans", result.Orphans),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// sweepOrphans удаляет директории записей, у которых не осталось строки
// в базе. Схема путей фиксирована (root/ext/год/месяц/день/id), поэтому
// директории записей перечисляются glob-шаблоном; льготный период
// отсчитывается от времени изменения директории, чтобы не задеть
// идущую в этот момент загрузку.
func (rc *ReconcileService) sweepOrphans(ctx context.Context, cutoff time.Time, result *ReconcileResult) {
	dirs, err := filepath.Glob(filepath.Join(rc.store.Root(), "*", "*", "*", "*", "*"))
	if err != nil {
		reconcileErrorsTotal.Inc()
		result.Errors++
		rc.logger.Error("Ошибка перечисления директорий записей",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, dir := range dirs {
		id, err := strconv.ParseInt(filepath.Base(dir), 10, 64)
		if err != nil {
			continue // не директория записи
		}

		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}

		if _, err := rc.repo.GetByID(ctx, id); err == nil {
			continue // запись жива
		} else if !errors.Is(err, repository.ErrNotFound) {
			reconcileErrorsTotal.Inc()
			result.Errors++
			rc.logger.Error("Ошибка проверки записи осиротевшей директории",
				slog.Int64("media_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := rc.store.RemoveTree(dir, 0); err != nil {
			reconcileErrorsTotal.Inc()
			result.Errors++
			rc.logger.Error("Ошибка удаления осиротевшей директории",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			continue
		}

		reconcileOrphansTotal.Inc()
		result.Orphans++
		rc.logger.Info("Осиротевшая директория удалена",
			slog.Int64("media_id", id),
			slog.String("dir", dir),
		)
	}
}
