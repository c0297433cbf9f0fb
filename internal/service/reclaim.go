// reclaim.go — фоновый воркер освобождения директорий удалённых записей.
//
// Удаление записи возвращает ответ сразу после удаления метаданных;
// освобождение директории на диске ставится в очередь и выполняется
// этим воркером в фоне, с ограниченным числом повторов. Результаты
// последних задач хранятся в кольцевом журнале и доступны для
// диагностики.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/mediastore/internal/storage/filestore"
)

// Prometheus-метрики воркера освобождения.
var (
	reclaimTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ms_reclaim_tasks_total",
		Help: "Общее количество задач освобождения директорий по результату",
	}, []string{"result"})

	reclaimQueueDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ms_reclaim_queue_dropped_total",
		Help: "Количество задач, отброшенных из-за переполнения очереди",
	})

	reclaimDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ms_reclaim_duration_seconds",
		Help:    "Длительность освобождения директории в секундах",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// журнал результатов ограничен фиксированным числом последних задач
const reclaimJournalLimit = 256

// ReclaimTask — задача освобождения директории одной записи.
type ReclaimTask struct {
	// TaskID — идентификатор задачи для корреляции в логах
	TaskID string
	// MediaID — идентификатор удалённой записи
	MediaID int64
	// Dir — директория записи на диске
	Dir string
}

// ReclaimResult — итог выполнения задачи.
type ReclaimResult struct {
	// Task — исходная задача
	Task ReclaimTask
	// Err — ошибка последней попытки, nil при успехе
	Err error
	// Duration — длительность выполнения
	Duration time.Duration
	// FinishedAt — момент завершения
	FinishedAt time.Time
}

// Reclaimer — фоновый воркер освобождения директорий.
type Reclaimer struct {
	store   *filestore.FileStore
	retries int
	queue   chan ReclaimTask
	logger  *slog.Logger

	mu      sync.Mutex
	journal []ReclaimResult
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReclaimer создаёт воркер освобождения.
// retries — количество повторов после первой неудачной попытки,
// queueSize — ёмкость очереди задач.
func NewReclaimer(store *filestore.FileStore, retries, queueSize int, logger *slog.Logger) *Reclaimer {
	return &Reclaimer{
		store:   store,
		retries: retries,
		queue:   make(chan ReclaimTask, queueSize),
		logger:  logger.With(slog.String("component", "reclaimer")),
	}
}

// Start запускает фоновую горутину воркера.
// Вызывается один раз при старте приложения.
func (r *Reclaimer) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(workerCtx)

	r.logger.Info("Воркер освобождения запущен",
		slog.Int("retries", r.retries),
		slog.Int("queue_size", cap(r.queue)),
	)
}

// Stop останавливает воркер и дожидается завершения текущей задачи.
func (r *Reclaimer) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	r.logger.Info("Воркер освобождения остановлен")
}

// Enqueue ставит директорию в очередь на освобождение и возвращает
// идентификатор задачи. Постановка неблокирующая: при переполнении
// очереди задача отбрасывается с логированием — строка в базе уже
// удалена, поэтому осиротевшую директорию уберёт проход сверки по
// диску (ReconcileService).
func (r *Reclaimer) Enqueue(mediaID int64, dir string) string {
	task := ReclaimTask{
		TaskID:  uuid.New().String(),
		MediaID: mediaID,
		Dir:     dir,
	}

	select {
	case r.queue <- task:
		r.logger.Debug("Задача освобождения поставлена в очередь",
			slog.String("task_id", task.TaskID),
			slog.Int64("media_id", mediaID),
			slog.String("dir", dir),
		)
	default:
		reclaimQueueDroppedTotal.Inc()
		r.logger.Warn("Очередь освобождения переполнена, задача отброшена",
			slog.String("task_id", task.TaskID),
			slog.Int64("media_id", mediaID),
			slog.String("dir", dir),
		)
	}

	return task.TaskID
}

// Results возвращает копию журнала последних результатов.
func (r *Reclaimer) Results() []ReclaimResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ReclaimResult, len(r.journal))
	copy(out, r.journal)
	return out
}

// run — основной цикл воркера: выбирает задачи из очереди до отмены
// контекста.
func (r *Reclaimer) run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.queue:
			r.process(task)
		}
	}
}

// process выполняет одну задачу и записывает результат в журнал.
func (r *Reclaimer) process(task ReclaimTask) {
	start := time.Now()
	err := r.store.RemoveTree(task.Dir, r.retries)
	duration := time.Since(start)

	reclaimDurationSeconds.Observe(duration.Seconds())

	if err != nil {
		reclaimTasksTotal.WithLabelValues("failed").Inc()
		r.logger.Error("Не удалось освободить директорию",
			slog.String("task_id", task.TaskID),
			slog.Int64("media_id", task.MediaID),
			slog.String("dir", task.Dir),
			slog.String("error", err.Error()),
		)
	} else {
		reclaimTasksTotal.WithLabelValues("success").Inc()
		r.logger.Info("Директория освобождена",
			slog.String("task_id", task.TaskID),
			slog.Int64("media_id", task.MediaID),
			slog.String("dir", task.Dir),
			slog.Duration("duration", duration),
		)
	}

	r.record(ReclaimResult{
		Task:       task,
		Err:        err,
		Duration:   duration,
		FinishedAt: time.Now().UTC(),
	})
}

// record добавляет результат в кольцевой журнал.
func (r *Reclaimer) record(res ReclaimResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.journal = append(r.journal, res)
	if len(r.journal) > reclaimJournalLimit {
		r.journal = r.journal[len(r.journal)-reclaimJournalLimit:]
	}
}
