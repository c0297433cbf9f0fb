package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/arturkryukov/mediastore/internal/domain/model"
	"github.com/arturkryukov/mediastore/internal/repository"
	"github.com/arturkryukov/mediastore/internal/storage/filestore"
	"github.com/arturkryukov/mediastore/internal/storage/paths"
)

// newReconcileEnv собирает сервис сверки поверх временной директории.
func newReconcileEnv(t *testing.T, grace time.Duration) (*ReconcileService, *repository.MemoryRepository, *filestore.FileStore, *paths.Resolver) {
	t.Helper()
	root := t.TempDir()
	store, err := filestore.New(root)
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}
	repo := repository.NewMemoryRepository()
	resolver := paths.NewResolver(root)
	rc := NewReconcileService(repo, store, resolver, time.Hour, grace, testLogger())
	return rc, repo, store, resolver
}

// seedRecord создаёт запись с нужным статусом и опционально директорию.
func seedRecord(t *testing.T, repo *repository.MemoryRepository, store *filestore.FileStore, resolver *paths.Resolver, status model.MediaStatus, withDir bool) *model.MediaRecord {
	t.Helper()
	rec, err := repo.Create(context.Background(), repository.CreateParams{
		UserID:    1,
		Album:     model.AlbumWallPhotos,
		Extension: model.CanonicalExtension,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("ошибка создания записи: %v", err)
	}
	if status != model.StatusPending {
		if err := repo.UpdateStatus(context.Background(), rec.ID, status); err != nil {
			t.Fatalf("ошибка смены статуса: %v", err)
		}
	}
	if withDir {
		dir := resolver.RecordDir(rec.Extension, rec.Timestamp, rec.ID)
		if err := store.EnsureDir(dir); err != nil {
			t.Fatalf("ошибка создания директории: %v", err)
		}
	}
	return rec
}

// TestReconcile_ReclaimsStale проверяет уборку pending- и failed-записей
// старше льготного периода вместе с их директориями.
func TestReconcile_ReclaimsStale(t *testing.T) {
	rc, repo, store, resolver := newReconcileEnv(t, 0)

	pending := seedRecord(t, repo, store, resolver, model.StatusPending, true)
	failed := seedRecord(t, repo, store, resolver, model.StatusFailed, true)
	committed := seedRecord(t, repo, store, resolver, model.StatusCommitted, true)

	// Льготный период нулевой — записи сразу считаются застрявшими.
	result := rc.RunOnce(context.Background())
	if result.Reclaimed != 2 {
		t.Fatalf("ожидалось 2 убранные записи, получено %d", result.Reclaimed)
	}
	if result.Errors != 0 {
		t.Errorf("ошибок быть не должно, получено %d", result.Errors)
	}

	for _, rec := range []*model.MediaRecord{pending, failed} {
		if _, err := repo.GetByID(context.Background(), rec.ID); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("запись %d должна быть удалена", rec.ID)
		}
		dir := resolver.RecordDir(rec.Extension, rec.Timestamp, rec.ID)
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("директория записи %d должна быть удалена", rec.ID)
		}
	}

	// committed-запись не тронута.
	if _, err := repo.GetByID(context.Background(), committed.ID); err != nil {
		t.Errorf("committed-запись пострадала: %v", err)
	}
}

// TestReconcile_RespectsGrace проверяет, что свежие записи и свежие
// директории внутри льготного периода не трогаются.
func TestReconcile_RespectsGrace(t *testing.T) {
	rc, repo, store, resolver := newReconcileEnv(t, time.Hour)

	fresh := seedRecord(t, repo, store, resolver, model.StatusPending, false)

	// Свежая директория без записи: возможно, запись ещё создаётся.
	freshDir := resolver.RecordDir(model.CanonicalExtension, time.Now().Unix(), 555)
	if err := store.EnsureDir(freshDir); err != nil {
		t.Fatalf("ошибка создания директории: %v", err)
	}

	result := rc.RunOnce(context.Background())
	if result.Reclaimed != 0 {
		t.Fatalf("свежая запись не должна убираться, убрано %d", result.Reclaimed)
	}
	if result.Orphans != 0 {
		t.Fatalf("свежая директория не должна убираться, убрано %d", result.Orphans)
	}
	if _, err := repo.GetByID(context.Background(), fresh.ID); err != nil {
		t.Errorf("свежая запись пропала: %v", err)
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Errorf("свежая директория пропала: %v", err)
	}
}

// TestReconcile_SweepsOrphanDirs проверяет уборку директорий, у которых
// не осталось записи в базе: например, после отброшенной при переполнении
// очереди задачи освобождения.
func TestReconcile_SweepsOrphanDirs(t *testing.T) {
	rc, repo, store, resolver := newReconcileEnv(t, 0)

	alive := seedRecord(t, repo, store, resolver, model.StatusCommitted, true)

	orphanDir := resolver.RecordDir(model.CanonicalExtension, time.Now().Unix(), 777)
	if err := store.EnsureDir(orphanDir); err != nil {
		t.Fatalf("ошибка создания директории: %v", err)
	}

	// Посторонняя директория с нечисловым именем — не директория записи.
	strayDir := filepath.Join(store.Root(), model.CanonicalExtension, "2023", "9", "30", "tmp")
	if err := store.EnsureDir(strayDir); err != nil {
		t.Fatalf("ошибка создания директории: %v", err)
	}

	result := rc.RunOnce(context.Background())
	if result.Orphans != 1 {
		t.Fatalf("ожидалась 1 осиротевшая директория, получено %d", result.Orphans)
	}
	if result.Errors != 0 {
		t.Errorf("ошибок быть не должно, получено %d", result.Errors)
	}

	if _, err := os.Stat(orphanDir); !os.IsNotExist(err) {
		t.Errorf("осиротевшая директория должна быть удалена")
	}
	aliveDir := resolver.RecordDir(alive.Extension, alive.Timestamp, alive.ID)
	if _, err := os.Stat(aliveDir); err != nil {
		t.Errorf("директория живой записи пострадала: %v", err)
	}
	if _, err := os.Stat(strayDir); err != nil {
		t.Errorf("посторонняя директория пострадала: %v", err)
	}
}

// failingStaleRepo имитирует сбой базы при выборке застрявших записей.
type failingStaleRepo struct {
	*repository.MemoryRepository
}

func (r *failingStaleRepo) ListStale(context.Context, time.Time) ([]*model.MediaRecord, error) {
	return nil, errors.New("соединение потеряно")
}

// TestReconcile_ListStaleFailureCountsRun проверяет, что запуск со сбоем
// выборки учитывается в метрике запусков, а не пропадает из неё.
func TestReconcile_ListStaleFailureCountsRun(t *testing.T) {
	root := t.TempDir()
	store, err := filestore.New(root)
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}
	repo := &failingStaleRepo{repository.NewMemoryRepository()}
	rc := NewReconcileService(repo, store, paths.NewResolver(root), time.Hour, 0, testLogger())

	runsBefore := testutil.ToFloat64(reconcileRunsTotal)

	result := rc.RunOnce(context.Background())
	if result.Errors != 1 {
		t.Fatalf("ожидалась 1 ошибка, получено %d", result.Errors)
	}
	if result.Reclaimed != 0 || result.Orphans != 0 {
		t.Errorf("сбойный запуск не должен ничего убирать: %+v", result)
	}

	if diff := testutil.ToFloat64(reconcileRunsTotal) - runsBefore; diff != 1 {
		t.Errorf("запуск со сбоем должен учитываться в ms_reconcile_runs_total, прирост %v", diff)
	}
}

// TestReconcile_MissingDir проверяет, что отсутствие директории
// (загрузка упала до записи файлов) не мешает уборке записи.
func TestReconcile_MissingDir(t *testing.T) {
	rc, repo, store, resolver := newReconcileEnv(t, 0)

	rec := seedRecord(t, repo, store, resolver, model.StatusFailed, false)

	result := rc.RunOnce(context.Background())
	if result.Reclaimed != 1 {
		t.Fatalf("ожидалась 1 убранная запись, получено %d", result.Reclaimed)
	}
	if _, err := repo.GetByID(context.Background(), rec.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("запись должна быть удалена")
	}
}
