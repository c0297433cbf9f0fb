// media.go — HTTP handlers операций Media Store.
// Upload, Image, Album, Delete, Params.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/mediastore/internal/api/errors"
	"github.com/arturkryukov/mediastore/internal/api/middleware"
	"github.com/arturkryukov/mediastore/internal/domain/model"
	"github.com/arturkryukov/mediastore/internal/repository"
	"github.com/arturkryukov/mediastore/internal/service"
)

// MediaHandler — обработчик media endpoints.
type MediaHandler struct {
	uploadSvc    *service.UploadService
	retrievalSvc *service.RetrievalService
	deletionSvc  *service.DeletionService
	maxFiles     int
	maxFileSize  int64
	quota        int
}

// NewMediaHandler создаёт обработчик media endpoints.
// maxFiles — лимит файлов в одном запросе, maxFileSize — лимит размера
// одного файла в байтах, quota — лимит хранимых записей на аккаунт.
func NewMediaHandler(
	uploadSvc *service.UploadService,
	retrievalSvc *service.RetrievalService,
	deletionSvc *service.DeletionService,
	maxFiles int,
	maxFileSize int64,
	quota int,
) *MediaHandler {
	return &MediaHandler{
		uploadSvc:    uploadSvc,
		retrievalSvc: retrievalSvc,
		deletionSvc:  deletionSvc,
		maxFiles:     maxFiles,
		maxFileSize:  maxFileSize,
		quota:        quota,
	}
}

// userID извлекает идентификатор аккаунта из контекста запроса.
// При отсутствии пишет 401 и возвращает false.
func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return 0, false
	}
	return id, true
}

// Upload обрабатывает POST /api/v1/media.
// Multipart form: files (один или несколько), album (обязательно),
// params (опционально, JSON с names/descriptions).
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32 MB buffer
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	album := model.Album(r.FormValue("album"))
	if !model.ValidAlbum(album) {
		apierrors.ValidationError(w, "Параметр 'album' обязателен и должен быть одним из допустимых альбомов")
		return
	}

	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		apierrors.ValidationError(w, "Поле 'files' обязательно")
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) > h.maxFiles {
		apierrors.ValidationError(w, fmt.Sprintf("Не более %d файлов в одном запросе", h.maxFiles))
		return
	}

	files := make([]service.UploadFile, 0, len(headers))
	for _, header := range headers {
		if header.Size > h.maxFileSize {
			apierrors.FileTooLarge(w, fmt.Sprintf("Файл %s превышает лимит %d байт", header.Filename, h.maxFileSize))
			return
		}

		f, err := header.Open()
		if err != nil {
			apierrors.InternalError(w, "Ошибка чтения файла из запроса")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			apierrors.InternalError(w, "Ошибка чтения файла из запроса")
			return
		}

		files = append(files, service.UploadFile{
			Data:             data,
			OriginalFilename: header.Filename,
			ContentType:      header.Header.Get("Content-Type"),
		})
	}

	records, err := h.uploadSvc.Upload(r.Context(), files, album, uid, r.FormValue("params"))
	if err != nil {
		if errors.Is(err, service.ErrQuotaExceeded) {
			apierrors.QuotaExceeded(w, "Превышен лимит хранимых файлов аккаунта")
			return
		}
		apierrors.InternalError(w, "Ошибка обработки загрузки")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(records)
}

// Params обрабатывает GET /api/v1/media/params.
// Возвращает ограничения и допустимые значения для клиента.
func (h *MediaHandler) Params(w http.ResponseWriter, _ *http.Request) {
	sizes := make([]int, 0, len(model.SizeTiers))
	for _, tier := range model.SizeTiers {
		sizes = append(sizes, tier.Bound)
	}

	resp := map[string]any{
		"max_files":       h.maxFiles,
		"max_file_size":   h.maxFileSize,
		"max_per_account": h.quota,
		"accepted_types":  service.AcceptedTypes(),
		"albums":          model.Albums,
		"sizes":           sizes,
		"extension":       model.CanonicalExtension,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Image обрабатывает GET /api/v1/media/image/{id}/{size}.
// Отдаёт rendition-файл как image/webp.
func (h *MediaHandler) Image(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор записи")
		return
	}
	size, err := strconv.Atoi(chi.URLParam(r, "size"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный размер")
		return
	}

	f, err := h.retrievalSvc.Open(r.Context(), id, size)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownSize):
			apierrors.ValidationError(w, "Размер вне фиксированного набора")
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, fs.ErrNotExist):
			apierrors.NotFound(w, "Изображение не найдено")
		default:
			apierrors.InternalError(w, "Ошибка чтения изображения")
		}
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", model.CanonicalContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

// Album обрабатывает GET /api/v1/media/album/{album}.
// Возвращает committed-записи аккаунта в альбоме.
func (h *MediaHandler) Album(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	album := model.Album(chi.URLParam(r, "album"))
	if !model.ValidAlbum(album) {
		apierrors.ValidationError(w, "Недопустимый альбом")
		return
	}

	records, err := h.retrievalSvc.ListAlbum(r.Context(), uid, album)
	if err != nil {
		apierrors.InternalError(w, "Ошибка выборки альбома")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(records)
}

// Delete обрабатывает DELETE /api/v1/media/{id}.
// Удаляет метаданные синхронно, освобождение диска уходит в фон.
func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор записи")
		return
	}

	record, err := h.deletionSvc.Delete(r.Context(), id, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Запись не найдена")
			return
		}
		apierrors.InternalError(w, "Ошибка удаления записи")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(record)
}
