package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arturkryukov/mediastore/internal/domain/model"
	"github.com/arturkryukov/mediastore/internal/repository"
	"github.com/arturkryukov/mediastore/internal/storage/filestore"
	"github.com/arturkryukov/mediastore/internal/storage/paths"
)

// testLogger возвращает logger, пишущий в никуда.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pngFixture кодирует одноцветное изображение в PNG.
func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("ошибка кодирования PNG: %v", err)
	}
	return buf.Bytes()
}

// newUploadEnv собирает сервис загрузки поверх временной директории.
func newUploadEnv(t *testing.T, quota int) (*UploadService, *repository.MemoryRepository, *paths.Resolver, string) {
	t.Helper()
	root := t.TempDir()
	store, err := filestore.New(root)
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}
	repo := repository.NewMemoryRepository()
	resolver := paths.NewResolver(root)
	svc := NewUploadService(repo, store, resolver, quota, testLogger())
	return svc, repo, resolver, root
}

// TestUpload_Success проверяет полный цикл: запись в базу, три rendition-файла,
// статус committed.
func TestUpload_Success(t *testing.T) {
	svc, _, resolver, _ := newUploadEnv(t, 100)

	files := []UploadFile{{
		Data:             pngFixture(t, 600, 400),
		OriginalFilename: "sunset.png",
		ContentType:      "image/png",
	}}

	records, err := svc.Upload(context.Background(), files, model.AlbumWallPhotos, 7, "")
	if err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ожидалась 1 запись, получено %d", len(records))
	}

	rec := records[0]
	if rec.Status != model.StatusCommitted {
		t.Errorf("статус: ожидался committed, получен %s", rec.Status)
	}
	if rec.Name != "sunset" {
		t.Errorf("имя: ожидалось sunset, получено %s", rec.Name)
	}
	if rec.Extension != model.CanonicalExtension {
		t.Errorf("расширение: ожидалось %s, получено %s", model.CanonicalExtension, rec.Extension)
	}

	for _, tier := range model.SizeTiers {
		path := resolver.RenditionPath(rec.Extension, rec.Timestamp, rec.ID, tier.Bound)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("rendition %d не записан: %v", tier.Bound, err)
		}
	}
}

// TestUpload_QuotaRejectsWholeBatch проверяет отклонение батча целиком
// без побочных эффектов.
func TestUpload_QuotaRejectsWholeBatch(t *testing.T) {
	svc, repo, _, root := newUploadEnv(t, 1)

	seed := []UploadFile{{
		Data:             pngFixture(t, 100, 100),
		OriginalFilename: "first.png",
		ContentType:      "image/png",
	}}
	if _, err := svc.Upload(context.Background(), seed, model.AlbumProfilePhotos, 1, ""); err != nil {
		t.Fatalf("ошибка первичной загрузки: %v", err)
	}

	before, _ := repo.CountByUser(context.Background(), 1)

	batch := []UploadFile{
		{Data: pngFixture(t, 100, 100), OriginalFilename: "a.png", ContentType: "image/png"},
		{Data: pngFixture(t, 100, 100), OriginalFilename: "b.png", ContentType: "image/png"},
	}
	_, err := svc.Upload(context.Background(), batch, model.AlbumProfilePhotos, 1, "")
	if err != ErrQuotaExceeded {
		t.Fatalf("ожидалась ErrQuotaExceeded, получено %v", err)
	}

	after, _ := repo.CountByUser(context.Background(), 1)
	if after != before {
		t.Errorf("количество записей изменилось: было %d, стало %d", before, after)
	}

	// На диске только директория первой записи.
	entries := countFiles(t, root)
	if entries != len(model.SizeTiers) {
		t.Errorf("ожидалось %d файлов на диске, найдено %d", len(model.SizeTiers), entries)
	}
}

// TestUpload_SkipsUnsupportedType проверяет молчаливый пропуск файлов
// с неподходящим заявленным типом.
func TestUpload_SkipsUnsupportedType(t *testing.T) {
	svc, repo, _, _ := newUploadEnv(t, 100)

	files := []UploadFile{
		{Data: []byte("%PDF-1.4"), OriginalFilename: "doc.pdf", ContentType: "application/pdf"},
		{Data: pngFixture(t, 100, 100), OriginalFilename: "ok.png", ContentType: "image/png"},
	}

	records, err := svc.Upload(context.Background(), files, model.AlbumNewsPhotos, 3, "")
	if err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ожидалась 1 запись, получено %d", len(records))
	}
	if records[0].Name != "ok" {
		t.Errorf("записан не тот файл: %s", records[0].Name)
	}

	count, _ := repo.CountByUser(context.Background(), 3)
	if count != 1 {
		t.Errorf("в базе ожидалась 1 запись, найдено %d", count)
	}
}

// TestUpload_UndecodableMarksFailed проверяет, что файл с подходящим
// заявленным типом, но некорректным содержимым, остаётся в базе
// со статусом failed и не попадает в результат.
func TestUpload_UndecodableMarksFailed(t *testing.T) {
	svc, repo, _, _ := newUploadEnv(t, 100)

	files := []UploadFile{{
		Data:             []byte("это не изображение"),
		OriginalFilename: "broken.png",
		ContentType:      "image/png",
	}}

	records, err := svc.Upload(context.Background(), files, model.AlbumChatPhotos, 5, "")
	if err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("ожидался пустой результат, получено %d записей", len(records))
	}

	stale, err := repo.ListStale(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ошибка выборки: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("ожидалась 1 некоммиченная запись, найдено %d", len(stale))
	}
	if stale[0].Status != model.StatusFailed {
		t.Errorf("статус: ожидался failed, получен %s", stale[0].Status)
	}
}

// TestUpload_SidecarNames проверяет привязку имён и описаний из sidecar.
func TestUpload_SidecarNames(t *testing.T) {
	svc, _, _, _ := newUploadEnv(t, 100)

	files := []UploadFile{
		{Data: pngFixture(t, 100, 100), OriginalFilename: "a.png", ContentType: "image/png"},
		{Data: pngFixture(t, 100, 100), OriginalFilename: "b.png", ContentType: "image/png"},
	}
	sidecar := `{"names": ["Закат", ""], "descriptions": ["Вид с балкона"]}`

	records, err := svc.Upload(context.Background(), files, model.AlbumWallPhotos, 2, sidecar)
	if err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(records))
	}
	if records[0].Name != "Закат" {
		t.Errorf("имя первой записи: ожидалось Закат, получено %s", records[0].Name)
	}
	if records[0].Description != "Вид с балкона" {
		t.Errorf("описание первой записи: получено %s", records[0].Description)
	}
	if records[1].Name != "b" {
		t.Errorf("имя второй записи: ожидалось b, получено %s", records[1].Name)
	}
	if records[1].Description != "" {
		t.Errorf("описание второй записи должно быть пустым, получено %s", records[1].Description)
	}
}

// TestUpload_MalformedSidecarFallsBack проверяет откат к значениям
// по умолчанию при некорректном sidecar.
func TestUpload_MalformedSidecarFallsBack(t *testing.T) {
	svc, _, _, _ := newUploadEnv(t, 100)

	files := []UploadFile{{
		Data:             pngFixture(t, 100, 100),
		OriginalFilename: "photo.final.png",
		ContentType:      "image/png",
	}}

	records, err := svc.Upload(context.Background(), files, model.AlbumWallPhotos, 2, "{не json")
	if err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ожидалась 1 запись, получено %d", len(records))
	}
	if records[0].Name != "photo" {
		t.Errorf("имя: ожидалось photo (до первой точки), получено %s", records[0].Name)
	}
}

// TestParseSidecar_Table — табличная проверка защитного разбора.
func TestParseSidecar_Table(t *testing.T) {
	files := []UploadFile{
		{OriginalFilename: "one.jpg"},
		{OriginalFilename: "two.jpg"},
	}

	cases := []struct {
		name      string
		raw       string
		wantNames []string
		wantOK    bool
	}{
		{"пустой sidecar", "", []string{"one", "two"}, true},
		{"битый JSON", "[[[", []string{"one", "two"}, false},
		{"имён меньше файлов", `{"names": ["x"]}`, []string{"x", "two"}, true},
		{"имён больше файлов", `{"names": ["x", "y", "z"]}`, []string{"x", "y"}, true},
		{"пустое имя игнорируется", `{"names": ["", "y"]}`, []string{"one", "y"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			names, _, ok := ParseSidecar(tc.raw, files)
			if ok != tc.wantOK {
				t.Errorf("ok: ожидалось %v, получено %v", tc.wantOK, ok)
			}
			for i, want := range tc.wantNames {
				if names[i] != want {
					t.Errorf("имя %d: ожидалось %s, получено %s", i, want, names[i])
				}
			}
		})
	}
}

// countFiles считает обычные файлы под корнем.
func countFiles(t *testing.T, root string) int {
	t.Helper()
	count := 0
	err := filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ошибка обхода директории: %v", err)
	}
	return count
}
