package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arturkryukov/mediastore/internal/domain/model"
	"github.com/arturkryukov/mediastore/internal/repository"
	"github.com/arturkryukov/mediastore/internal/storage/filestore"
	"github.com/arturkryukov/mediastore/internal/storage/paths"
)

// newDeletionEnv собирает связку upload + retrieval + reclaimer + deletion
// поверх временной директории.
func newDeletionEnv(t *testing.T) (*UploadService, *DeletionService, *RetrievalService, *paths.Resolver) {
	t.Helper()
	root := t.TempDir()
	store, err := filestore.New(root)
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}
	repo := repository.NewMemoryRepository()
	resolver := paths.NewResolver(root)
	logger := testLogger()

	upload := NewUploadService(repo, store, resolver, 100, logger)
	retrieval := NewRetrievalService(repo, store, resolver, 16, time.Minute, logger)
	reclaimer := NewReclaimer(store, 2, 8, logger)
	reclaimer.Start(context.Background())
	t.Cleanup(reclaimer.Stop)
	deletion := NewDeletionService(repo, resolver, reclaimer, retrieval, logger)

	return upload, deletion, retrieval, resolver
}

// TestDelete_RemovesRecordAndDir проверяет полный цикл: загрузка,
// удаление метаданных, фоновое освобождение директории.
func TestDelete_RemovesRecordAndDir(t *testing.T) {
	upload, deletion, retrieval, resolver := newDeletionEnv(t)

	records, err := upload.Upload(context.Background(), []UploadFile{{
		Data:             pngFixture(t, 200, 100),
		OriginalFilename: "pic.png",
		ContentType:      "image/png",
	}}, model.AlbumWallPhotos, 4, "")
	if err != nil || len(records) != 1 {
		t.Fatalf("ошибка подготовки: %v, записей %d", err, len(records))
	}
	rec := records[0]

	deleted, err := deletion.Delete(context.Background(), rec.ID, rec.UserID)
	if err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if deleted.ID != rec.ID {
		t.Errorf("удалена не та запись: %d", deleted.ID)
	}

	// Метаданные недоступны сразу, в том числе через кэш.
	if _, err := retrieval.RenditionPath(context.Background(), rec.ID, model.SizeLarge); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("после удаления ожидалась ErrNotFound, получено %v", err)
	}

	waitReclaimed(t, resolver.RecordDir(rec.Extension, rec.Timestamp, rec.ID))
}

// TestDelete_ForeignRecord проверяет, что чужая запись недоступна
// для удаления и остаётся на месте.
func TestDelete_ForeignRecord(t *testing.T) {
	upload, deletion, retrieval, _ := newDeletionEnv(t)

	records, err := upload.Upload(context.Background(), []UploadFile{{
		Data:             pngFixture(t, 100, 100),
		OriginalFilename: "own.png",
		ContentType:      "image/png",
	}}, model.AlbumChatPhotos, 10, "")
	if err != nil || len(records) != 1 {
		t.Fatalf("ошибка подготовки: %v", err)
	}
	rec := records[0]

	if _, err := deletion.Delete(context.Background(), rec.ID, 999); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("для чужой записи ожидалась ErrNotFound, получено %v", err)
	}

	// Запись владельца не пострадала.
	if _, err := retrieval.RenditionPath(context.Background(), rec.ID, model.SizeLarge); err != nil {
		t.Errorf("запись владельца недоступна: %v", err)
	}
}

// TestDelete_Twice проверяет идемпотентность по ошибке: повторное
// удаление отдаёт ErrNotFound.
func TestDelete_Twice(t *testing.T) {
	upload, deletion, _, _ := newDeletionEnv(t)

	records, err := upload.Upload(context.Background(), []UploadFile{{
		Data:             pngFixture(t, 100, 100),
		OriginalFilename: "once.png",
		ContentType:      "image/png",
	}}, model.AlbumNewsPhotos, 6, "")
	if err != nil || len(records) != 1 {
		t.Fatalf("ошибка подготовки: %v", err)
	}
	rec := records[0]

	if _, err := deletion.Delete(context.Background(), rec.ID, rec.UserID); err != nil {
		t.Fatalf("ошибка первого удаления: %v", err)
	}
	if _, err := deletion.Delete(context.Background(), rec.ID, rec.UserID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("для повторного удаления ожидалась ErrNotFound, получено %v", err)
	}
}
