// Пакет repository — слой доступа к метаданным медиа в PostgreSQL.
// Узкий интерфейс (create/find/remove/count + статус для reconciliation)
// с двумя реализациями: pgx и in-memory (тестовый дублёр).
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arturkryukov/mediastore/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена (или принадлежит другому пользователю).
	ErrNotFound = errors.New("запись не найдена")
)

// CreateParams — атрибуты новой записи. Статус всегда pending:
// запись переводится в committed только после записи всех файлов.
type CreateParams struct {
	// UserID — аккаунт-владелец
	UserID int64
	// Album — альбом из фиксированного набора
	Album model.Album
	// Extension — канонический выходной кодек
	Extension string
	// Timestamp — время загрузки, секунды Unix-эпохи
	Timestamp int64
	// Name — отображаемое имя
	Name string
	// Description — описание
	Description string
}

// MediaRepository — интерфейс доступа к записям media.
type MediaRepository interface {
	// Create создаёт запись со статусом pending и возвращает её
	// с выданным базой идентификатором.
	Create(ctx context.Context, params CreateParams) (*model.MediaRecord, error)

	// GetByID возвращает запись по id или ErrNotFound.
	GetByID(ctx context.Context, id int64) (*model.MediaRecord, error)

	// GetByOwner возвращает запись по (id, userID) или ErrNotFound.
	// Несовпадение владельца неотличимо от отсутствия записи.
	GetByOwner(ctx context.Context, id, userID int64) (*model.MediaRecord, error)

	// ListAlbum возвращает записи пользователя в альбоме (только committed).
	ListAlbum(ctx context.Context, userID int64, album model.Album) ([]*model.MediaRecord, error)

	// Remove удаляет запись по (id, userID) и возвращает удалённую
	// запись или ErrNotFound.
	Remove(ctx context.Context, id, userID int64) (*model.MediaRecord, error)

	// CountByUser возвращает количество записей пользователя.
	CountByUser(ctx context.Context, userID int64) (int, error)

	// UpdateStatus переводит запись в новый статус жизненного цикла.
	UpdateStatus(ctx context.Context, id int64, status model.MediaStatus) error

	// ListStale возвращает записи со статусом pending или failed,
	// созданные до cutoff. Используется reconciliation sweep.
	ListStale(ctx context.Context, cutoff time.Time) ([]*model.MediaRecord, error)
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозиторий как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
