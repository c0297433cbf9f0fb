// Пакет paths — детерминированное разрешение путей хранения renditions.
// Чистые функции без I/O: расположение файлов любой записи однозначно
// вычисляется из её атрибутов (extension, timestamp, id, size).
package paths

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// Resolver вычисляет пути хранения относительно корневой директории.
// Схема: root/extension/year/month/day/id/<size>.<extension>.
//
// Месяц в пути нумеруется с нуля (0 = январь) — семантика календаря
// исходной системы, сохраняется для совместимости с существующей
// раскладкой на диске. Идентификатор владельца в путь не входит:
// уникальность директории гарантирует id, который никогда не переиспользуется.
type Resolver struct {
	root string
}

// NewResolver создаёт Resolver с указанным корнем хранилища.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Root возвращает корневую директорию хранилища.
func (r *Resolver) Root() string {
	return r.root
}

// RecordDir возвращает директорию записи: root/ext/year/month/day/id.
// Все renditions одной записи лежат в одной директории, удаление
// записи — рекурсивное удаление этой директории.
func (r *Resolver) RecordDir(extension string, timestamp, id int64) string {
	t := time.Unix(timestamp, 0).UTC()
	return filepath.Join(
		r.root,
		extension,
		strconv.Itoa(t.Year()),
		strconv.Itoa(int(t.Month())-1), // месяц с нуля
		strconv.Itoa(t.Day()),
		strconv.FormatInt(id, 10),
	)
}

// RenditionPath возвращает путь rendition-файла указанного размера:
// root/ext/year/month/day/id/<size>.<ext>.
func (r *Resolver) RenditionPath(extension string, timestamp, id int64, size int) string {
	return filepath.Join(
		r.RecordDir(extension, timestamp, id),
		fmt.Sprintf("%d.%s", size, extension),
	)
}
