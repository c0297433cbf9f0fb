// retrieval.go — сервис отдачи renditions и выборки альбомов.
// Метаданные кэшируются в LRU с TTL: записи иммутабельны после
// коммита, поэтому кэш инвалидируется только при удалении.
package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/mediastore/internal/domain/model"
	"github.com/arturkryukov/mediastore/internal/repository"
	"github.com/arturkryukov/mediastore/internal/storage/filestore"
	"github.com/arturkryukov/mediastore/internal/storage/paths"
)

// ErrUnknownSize — запрошенный размер вне фиксированного набора уровней.
// Исходная система разрешала путь для любого размера и получала ENOENT
// при чтении; здесь проверка ужесточена до доменной ошибки.
var ErrUnknownSize = errors.New("запрошен размер вне фиксированного набора")

// Prometheus-метрики кэша метаданных.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ms_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ms_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных",
	})
)

// RetrievalService — сервис отдачи rendition-файлов и выборки альбомов.
type RetrievalService struct {
	repo     repository.MediaRepository
	store    *filestore.FileStore
	resolver *paths.Resolver
	cache    *expirable.LRU[int64, *model.MediaRecord]
	logger   *slog.Logger
}

// NewRetrievalService создаёт сервис отдачи с LRU-кэшем метаданных.
func NewRetrievalService(
	repo repository.MediaRepository,
	store *filestore.FileStore,
	resolver *paths.Resolver,
	cacheSize int,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *RetrievalService {
	return &RetrievalService{
		repo:     repo,
		store:    store,
		resolver: resolver,
		cache:    expirable.NewLRU[int64, *model.MediaRecord](cacheSize, nil, cacheTTL),
		logger:   logger.With(slog.String("component", "retrieval_service")),
	}
}

// lookup возвращает запись из кэша или из репозитория.
func (s *RetrievalService) lookup(ctx context.Context, id int64) (*model.MediaRecord, error) {
	if record, ok := s.cache.Get(id); ok {
		cacheHitsTotal.Inc()
		return record, nil
	}
	cacheMissesTotal.Inc()

	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, record)
	return record, nil
}

// RenditionPath возвращает путь rendition-файла для (id, size).
// Возвращает repository.ErrNotFound для неизвестного id и
// ErrUnknownSize для размера вне фиксированного набора.
func (s *RetrievalService) RenditionPath(ctx context.Context, id int64, size int) (string, error) {
	if !model.ValidSize(size) {
		return "", ErrUnknownSize
	}

	record, err := s.lookup(ctx, id)
	if err != nil {
		return "", err
	}

	return s.resolver.RenditionPath(record.Extension, record.Timestamp, record.ID, size), nil
}

// Open разрешает (id, size) в путь и открывает файл для чтения.
// Вызывающий код обязан закрыть файл. Отсутствие файла на диске
// (осиротевшая запись) отдаётся как ошибка открытия с fs.ErrNotExist
// в цепочке.
func (s *RetrievalService) Open(ctx context.Context, id int64, size int) (*os.File, error) {
	path, err := s.RenditionPath(ctx, id, size)
	if err != nil {
		return nil, err
	}

	f, err := s.store.Open(path)
	if err != nil {
		s.logger.Warn("Rendition-файл недоступен",
			slog.Int64("media_id", id),
			slog.Int("size", size),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return f, nil
}

// ListAlbum возвращает committed-записи пользователя в альбоме.
func (s *RetrievalService) ListAlbum(ctx context.Context, userID int64, album model.Album) ([]*model.MediaRecord, error) {
	return s.repo.ListAlbum(ctx, userID, album)
}

// Invalidate удаляет запись из кэша метаданных (вызывается при удалении).
func (s *RetrievalService) Invalidate(id int64) {
	s.cache.Remove(id)
}
