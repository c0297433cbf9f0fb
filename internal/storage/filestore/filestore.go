// Пакет filestore — операции с rendition-файлами на диске.
// Запись через temp файл с fsync и атомарным rename, чтение потоком,
// рекурсивное удаление директории записи с ограниченным числом повторов.
package filestore

import (
	"fmt"
	"os"
	"time"
)

// FileStore — управление физическими файлами в корне хранилища.
type FileStore struct {
	// root — корневая директория хранения (MS_STORAGE_ROOT)
	root string
}

// New создаёт FileStore и синхронно гарантирует существование корневой
// директории. Ошибка создания директории — ошибка старта приложения.
func New(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать корень хранилища %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Root возвращает корневую директорию хранилища.
func (fs *FileStore) Root() string {
	return fs.root
}

// EnsureDir рекурсивно создаёт директорию записи.
func (fs *FileStore) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}
	return nil
}

// WriteFile записывает данные по указанному пути.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) WriteFile(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Open открывает файл для чтения и возвращает *os.File.
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s: %w", path, err)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	return f, nil
}

// Exists проверяет существование файла или директории.
func (fs *FileStore) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveTree рекурсивно удаляет директорию записи со всеми renditions.
// При ошибке повторяет попытку до retries раз с небольшой паузой.
// Отсутствующая директория не считается ошибкой.
func (fs *FileStore) RemoveTree(dir string, retries int) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		lastErr = os.RemoveAll(dir)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("ошибка удаления директории %s: %w", dir, lastErr)
}

// DirEntries возвращает имена файлов в директории записи.
// Используется reconciliation для проверки полноты набора renditions.
func (fs *FileStore) DirEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
