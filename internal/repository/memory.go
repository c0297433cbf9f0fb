package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arturkryukov/mediastore/internal/domain/model"
)

// MemoryRepository — потокобезопасная in-memory реализация MediaRepository.
// Тестовый дублёр pgx-реализации; идентификаторы монотонно растут
// и не переиспользуются, как BIGSERIAL в PostgreSQL.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[int64]*model.MediaRecord
	nextID  int64
}

// NewMemoryRepository создаёт пустой in-memory репозиторий.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[int64]*model.MediaRecord),
		nextID:  1,
	}
}

// Create создаёт запись со статусом pending.
func (r *MemoryRepository) Create(_ context.Context, params CreateParams) (*model.MediaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := &model.MediaRecord{
		ID:          r.nextID,
		UserID:      params.UserID,
		Album:       params.Album,
		Extension:   params.Extension,
		Timestamp:   params.Timestamp,
		Name:        params.Name,
		Description: params.Description,
		Status:      model.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	r.nextID++
	r.records[m.ID] = m

	clone := *m
	return &clone, nil
}

// GetByID возвращает запись по id или ErrNotFound.
func (r *MemoryRepository) GetByID(_ context.Context, id int64) (*model.MediaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *m
	return &clone, nil
}

// GetByOwner возвращает запись по (id, userID) или ErrNotFound.
func (r *MemoryRepository) GetByOwner(_ context.Context, id, userID int64) (*model.MediaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.records[id]
	if !ok || m.UserID != userID {
		return nil, ErrNotFound
	}
	clone := *m
	return &clone, nil
}

// ListAlbum возвращает committed-записи пользователя в альбоме, новые первыми.
func (r *MemoryRepository) ListAlbum(_ context.Context, userID int64, album model.Album) ([]*model.MediaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.MediaRecord
	for _, m := range r.records {
		if m.UserID == userID && m.Album == album && m.Status == model.StatusCommitted {
			clone := *m
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

// Remove удаляет запись по (id, userID) и возвращает удалённую запись.
func (r *MemoryRepository) Remove(_ context.Context, id, userID int64) (*model.MediaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.records[id]
	if !ok || m.UserID != userID {
		return nil, ErrNotFound
	}
	delete(r.records, id)

	clone := *m
	return &clone, nil
}

// CountByUser возвращает количество записей пользователя.
func (r *MemoryRepository) CountByUser(_ context.Context, userID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, m := range r.records {
		if m.UserID == userID {
			count++
		}
	}
	return count, nil
}

// UpdateStatus переводит запись в новый статус.
func (r *MemoryRepository) UpdateStatus(_ context.Context, id int64, status model.MediaStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	return nil
}

// ListStale возвращает незакоммиченные записи, созданные до cutoff.
func (r *MemoryRepository) ListStale(_ context.Context, cutoff time.Time) ([]*model.MediaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.MediaRecord
	for _, m := range r.records {
		if (m.Status == model.StatusPending || m.Status == model.StatusFailed) && m.CreatedAt.Before(cutoff) {
			clone := *m
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ MediaRepository = (*MemoryRepository)(nil)
