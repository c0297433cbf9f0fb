package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/mediastore/internal/domain/model"
)

// mediaColumns — список столбцов таблицы media для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const mediaColumns = `id, user_id, album, extension, timestamp, name, description, status, created_at`

// mediaRepo — реализация MediaRepository через pgx.
type mediaRepo struct {
	db DBTX
}

// NewMediaRepository создаёт репозиторий медиа-записей.
func NewMediaRepository(db DBTX) MediaRepository {
	return &mediaRepo{db: db}
}

// scanRecord сканирует одну строку в MediaRecord.
func scanRecord(row pgx.Row) (*model.MediaRecord, error) {
	m := &model.MediaRecord{}
	err := row.Scan(
		&m.ID, &m.UserID, &m.Album, &m.Extension, &m.Timestamp,
		&m.Name, &m.Description, &m.Status, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Create создаёт запись со статусом pending.
// Идентификатор выдаёт база (BIGSERIAL), он никогда не переиспользуется.
func (r *mediaRepo) Create(ctx context.Context, params CreateParams) (*model.MediaRecord, error) {
	query := fmt.Sprintf(`
		INSERT INTO media (user_id, album, extension, timestamp, name, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING %s`, mediaColumns)

	m, err := scanRecord(r.db.QueryRow(ctx, query,
		params.UserID, params.Album, params.Extension, params.Timestamp,
		params.Name, params.Description, model.StatusPending,
	))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания записи: %w", err)
	}
	return m, nil
}

// GetByID возвращает запись по id или ErrNotFound.
func (r *mediaRepo) GetByID(ctx context.Context, id int64) (*model.MediaRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM media WHERE id = $1`, mediaColumns)

	m, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return m, nil
}

// GetByOwner возвращает запись по (id, userID) или ErrNotFound.
func (r *mediaRepo) GetByOwner(ctx context.Context, id, userID int64) (*model.MediaRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM media WHERE id = $1 AND user_id = $2`, mediaColumns)

	m, err := scanRecord(r.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return m, nil
}

// ListAlbum возвращает committed-записи пользователя в альбоме,
// новые первыми.
func (r *mediaRepo) ListAlbum(ctx context.Context, userID int64, album model.Album) ([]*model.MediaRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM media
		WHERE user_id = $1 AND album = $2 AND status = $3
		ORDER BY id DESC`, mediaColumns)

	rows, err := r.db.Query(ctx, query, userID, album, model.StatusCommitted)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки альбома: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Remove удаляет запись по (id, userID) и возвращает удалённую запись.
func (r *mediaRepo) Remove(ctx context.Context, id, userID int64) (*model.MediaRecord, error) {
	query := fmt.Sprintf(`
		DELETE FROM media
		WHERE id = $1 AND user_id = $2
		RETURNING %s`, mediaColumns)

	m, err := scanRecord(r.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return m, nil
}

// CountByUser возвращает количество записей пользователя.
// Используется проверкой квоты перед загрузкой.
func (r *mediaRepo) CountByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM media WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return count, nil
}

// UpdateStatus переводит запись в новый статус.
func (r *mediaRepo) UpdateStatus(ctx context.Context, id int64, status model.MediaStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE media SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStale возвращает незакоммиченные записи, созданные до cutoff.
func (r *mediaRepo) ListStale(ctx context.Context, cutoff time.Time) ([]*model.MediaRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM media
		WHERE status IN ($1, $2) AND created_at < $3
		ORDER BY id`, mediaColumns)

	rows, err := r.db.Query(ctx, query, model.StatusPending, model.StatusFailed, cutoff)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки незакоммиченных записей: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// collectRecords сканирует все строки результата в список записей.
func collectRecords(rows pgx.Rows) ([]*model.MediaRecord, error) {
	var result []*model.MediaRecord
	for rows.Next() {
		m := &model.MediaRecord{}
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.Album, &m.Extension, &m.Timestamp,
			&m.Name, &m.Description, &m.Status, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}
