// Пакет model — доменные модели Media Store.
// MediaRecord — единица хранения: одна запись метаданных на одно
// загруженное изображение, три rendition-файла на диске.
package model

import "time"

// Album — фиксированный альбом, к которому привязывается запись при создании.
type Album string

const (
	// AlbumProfilePhotos — фотографии профиля
	AlbumProfilePhotos Album = "PROFILE_PHOTOS"
	// AlbumWallPhotos — фотографии стены
	AlbumWallPhotos Album = "WALL_PHOTOS"
	// AlbumNewsPhotos — фотографии новостей
	AlbumNewsPhotos Album = "NEWS_PHOTOS"
	// AlbumChatPhotos — фотографии из чатов
	AlbumChatPhotos Album = "CHAT_PHOTOS"
)

// Albums — полный список допустимых альбомов.
var Albums = []Album{AlbumProfilePhotos, AlbumWallPhotos, AlbumNewsPhotos, AlbumChatPhotos}

// ValidAlbum проверяет, входит ли значение в фиксированный набор альбомов.
func ValidAlbum(a Album) bool {
	for _, known := range Albums {
		if a == known {
			return true
		}
	}
	return false
}

// MediaStatus — статус записи в жизненном цикле загрузки.
// Запись создаётся как pending, после успешной записи всех rendition-файлов
// переводится в committed. Ошибка генерации/записи переводит её в failed —
// такие записи подхватывает reconciliation sweep.
type MediaStatus string

const (
	// StatusPending — метаданные созданы, файлы ещё не записаны
	StatusPending MediaStatus = "pending"
	// StatusCommitted — все rendition-файлы записаны на диск
	StatusCommitted MediaStatus = "committed"
	// StatusFailed — запись файлов не удалась, ожидает reconciliation
	StatusFailed MediaStatus = "failed"
)

// CanonicalExtension — единственный выходной кодек: все renditions
// перекодируются в webp независимо от входного формата.
const CanonicalExtension = "webp"

// CanonicalContentType — Content-Type отдачи rendition-файлов.
const CanonicalContentType = "image/webp"

// SizeTier — размерный уровень rendition: ограничивающий квадрат
// и качество webp-кодирования.
type SizeTier struct {
	// Bound — сторона ограничивающего квадрата в пикселях
	Bound int
	// Quality — качество webp-кодирования (0-100)
	Quality int
}

// Размерные уровни renditions.
const (
	SizeLarge  = 1024
	SizeMedium = 512
	SizeSmall  = 256
)

// SizeTiers — фиксированный набор размерных уровней.
// Для каждого загруженного изображения генерируется ровно по одному
// rendition на уровень.
var SizeTiers = []SizeTier{
	{Bound: SizeLarge, Quality: 98},
	{Bound: SizeMedium, Quality: 98},
	{Bound: SizeSmall, Quality: 98},
}

// ValidSize проверяет, входит ли размер в фиксированный набор уровней.
func ValidSize(size int) bool {
	for _, tier := range SizeTiers {
		if tier.Bound == size {
			return true
		}
	}
	return false
}

// MediaRecord — метаданные одного загруженного изображения.
// Все поля, кроме Status, иммутабельны после создания.
type MediaRecord struct {
	// ID — идентификатор, выдаётся базой при создании, никогда не переиспользуется
	ID int64 `json:"id"`

	// UserID — идентификатор аккаунта-владельца
	UserID int64 `json:"userId"`

	// Album — альбом, назначается при создании
	Album Album `json:"album"`

	// Extension — канонический выходной кодек (всегда "webp")
	Extension string `json:"extension"`

	// Timestamp — время загрузки, секунды Unix-эпохи.
	// Вместе с ID определяет расположение файлов на диске.
	Timestamp int64 `json:"timestamp"`

	// Name — отображаемое имя; из sidecar-параметров или из имени файла
	Name string `json:"name"`

	// Description — описание; из sidecar-параметров, по умолчанию пустое
	Description string `json:"description"`

	// Status — статус жизненного цикла (pending/committed/failed)
	Status MediaStatus `json:"status"`

	// CreatedAt — время создания записи в базе (UTC)
	CreatedAt time.Time `json:"createdAt"`
}
