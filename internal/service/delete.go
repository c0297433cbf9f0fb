// delete.go — сервис удаления записей.
//
// Метаданные удаляются синхронно, освобождение директории на диске
// уходит в очередь воркера и не задерживает ответ. Ответ содержит
// удалённую запись.
package service

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/mediastore/internal/domain/model"
	"github.com/arturkryukov/mediastore/internal/repository"
	"github.com/arturkryukov/mediastore/internal/storage/paths"
)

var deletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ms_deletions_total",
	Help: "Общее количество удалённых записей",
})

// DeletionService — сервис удаления записей с фоновым освобождением диска.
type DeletionService struct {
	repo      repository.MediaRepository
	resolver  *paths.Resolver
	reclaimer *Reclaimer
	retrieval *RetrievalService
	logger    *slog.Logger
}

// NewDeletionService создаёт сервис удаления.
// retrieval нужен для инвалидации кэша метаданных.
func NewDeletionService(
	repo repository.MediaRepository,
	resolver *paths.Resolver,
	reclaimer *Reclaimer,
	retrieval *RetrievalService,
	logger *slog.Logger,
) *DeletionService {
	return &DeletionService{
		repo:      repo,
		resolver:  resolver,
		reclaimer: reclaimer,
		retrieval: retrieval,
		logger:    logger.With(slog.String("component", "deletion_service")),
	}
}

// Delete удаляет запись пользователя и ставит её директорию в очередь
// на освобождение. Возвращает удалённую запись; для чужой или
// несуществующей записи — repository.ErrNotFound.
func (s *DeletionService) Delete(ctx context.Context, id, userID int64) (*model.MediaRecord, error) {
	record, err := s.repo.Remove(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	s.retrieval.Invalidate(record.ID)

	dir := s.resolver.RecordDir(record.Extension, record.Timestamp, record.ID)
	taskID := s.reclaimer.Enqueue(record.ID, dir)

	deletionsTotal.Inc()
	s.logger.Info("Запись удалена",
		slog.Int64("media_id", record.ID),
		slog.Int64("user_id", userID),
		slog.String("reclaim_task_id", taskID),
	)

	return record, nil
}
