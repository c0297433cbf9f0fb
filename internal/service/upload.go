// Пакет service — бизнес-логика Media Store.
// upload.go — оркестрация загрузки: квота, фильтр типов, создание
// метаданных, генерация renditions, запись файлов, коммит записи.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/mediastore/internal/domain/model"
	"github.com/arturkryukov/mediastore/internal/renditions"
	"github.com/arturkryukov/mediastore/internal/repository"
	"github.com/arturkryukov/mediastore/internal/storage/filestore"
	"github.com/arturkryukov/mediastore/internal/storage/paths"
)

// ErrQuotaExceeded — аккаунт достиг лимита хранимых записей.
// Батч отклоняется целиком до каких-либо записей в базу или на диск.
var ErrQuotaExceeded = errors.New("превышен лимит хранимых файлов аккаунта")

// imagePattern — фильтр заявленных типов входных файлов.
// Проверка только по заявленному Content-Type, без анализа содержимого:
// несоответствующие файлы молча пропускаются.
var imagePattern = regexp.MustCompile(`(jpg|jpeg|png|gif)`)

// AcceptedTypes возвращает шаблон принимаемых заявленных типов
// (для endpoint ограничений загрузки).
func AcceptedTypes() string {
	return imagePattern.String()
}

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ms_uploads_total",
		Help: "Общее количество обработанных файлов загрузки по результату",
	}, []string{"result"})

	uploadBatchesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ms_upload_batches_rejected_total",
		Help: "Количество батчей, отклонённых проверкой квоты",
	})

	renditionsGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ms_renditions_generated_total",
		Help: "Общее количество записанных rendition-файлов",
	})
)

// UploadFile — один файл батча загрузки.
type UploadFile struct {
	// Data — содержимое файла
	Data []byte
	// OriginalFilename — оригинальное имя файла
	OriginalFilename string
	// ContentType — заявленный MIME-тип
	ContentType string
}

// UploadService — оркестратор загрузки изображений.
type UploadService struct {
	repo     repository.MediaRepository
	store    *filestore.FileStore
	resolver *paths.Resolver
	quota    int
	logger   *slog.Logger
}

// NewUploadService создаёт оркестратор загрузки.
// quota — максимальное количество записей на аккаунт.
func NewUploadService(
	repo repository.MediaRepository,
	store *filestore.FileStore,
	resolver *paths.Resolver,
	quota int,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		repo:     repo,
		store:    store,
		resolver: resolver,
		quota:    quota,
		logger:   logger.With(slog.String("component", "upload_service")),
	}
}

// Upload обрабатывает батч файлов и возвращает созданные записи.
//
// Порядок:
//  1. Проверка квоты аккаунта — при превышении батч отклоняется целиком,
//     без каких-либо побочных эффектов. Проверка check-then-act не атомарна:
//     конкурентные загрузки одного аккаунта могут суммарно превысить лимит —
//     известная и принятая гонка.
//  2. Файлы обрабатываются последовательно; конкурентность только внутри
//     генерации renditions одного файла.
//  3. Файл с неподходящим заявленным типом молча пропускается.
//  4. Ошибка создания метаданных прерывает только этот файл.
//  5. Ошибка генерации/записи файлов после создания метаданных логируется,
//     запись переводится в failed и остаётся для reconciliation sweep.
//
// В результат попадают только полностью записанные (committed) записи.
func (s *UploadService) Upload(
	ctx context.Context,
	files []UploadFile,
	album model.Album,
	userID int64,
	sidecarRaw string,
) ([]*model.MediaRecord, error) {
	count, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count >= s.quota {
		uploadBatchesRejectedTotal.Inc()
		s.logger.Warn("Батч отклонён: превышена квота",
			slog.Int64("user_id", userID),
			slog.Int("stored", count),
			slog.Int("quota", s.quota),
		)
		return nil, ErrQuotaExceeded
	}

	names, descriptions, sidecarOK := ParseSidecar(sidecarRaw, files)
	if !sidecarOK {
		s.logger.Warn("Sidecar-параметры не разобраны, используются значения по умолчанию",
			slog.Int64("user_id", userID),
		)
	}

	result := make([]*model.MediaRecord, 0, len(files))

	for i, file := range files {
		if !imagePattern.MatchString(file.ContentType) {
			uploadsTotal.WithLabelValues("skipped").Inc()
			s.logger.Warn("Файл пропущен: неподходящий заявленный тип",
				slog.String("filename", file.OriginalFilename),
				slog.String("content_type", file.ContentType),
			)
			continue
		}

		record, err := s.repo.Create(ctx, repository.CreateParams{
			UserID:      userID,
			Album:       album,
			Extension:   model.CanonicalExtension,
			Timestamp:   time.Now().UTC().Unix(),
			Name:        names[i],
			Description: descriptions[i],
		})
		if err != nil {
			uploadsTotal.WithLabelValues("failed").Inc()
			s.logger.Error("Ошибка создания метаданных, файл пропущен",
				slog.String("filename", file.OriginalFilename),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := s.writeRenditions(ctx, record, file.Data); err != nil {
			uploadsTotal.WithLabelValues("failed").Inc()
			s.logger.Error("Ошибка записи renditions, запись помечена failed",
				slog.Int64("media_id", record.ID),
				slog.String("filename", file.OriginalFilename),
				slog.String("error", err.Error()),
			)
			// Запись остаётся в базе со статусом failed — её подберёт
			// reconciliation sweep вместе с частично записанной директорией.
			if markErr := s.repo.UpdateStatus(ctx, record.ID, model.StatusFailed); markErr != nil {
				s.logger.Error("Ошибка пометки записи failed",
					slog.Int64("media_id", record.ID),
					slog.String("error", markErr.Error()),
				)
			}
			continue
		}

		if err := s.repo.UpdateStatus(ctx, record.ID, model.StatusCommitted); err != nil {
			s.logger.Error("Ошибка коммита записи (файлы записаны)",
				slog.Int64("media_id", record.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		record.Status = model.StatusCommitted

		uploadsTotal.WithLabelValues("success").Inc()
		s.logger.Info("Файл загружен",
			slog.Int64("media_id", record.ID),
			slog.Int64("user_id", userID),
			slog.String("album", string(album)),
			slog.String("filename", file.OriginalFilename),
			slog.Int("renditions", len(model.SizeTiers)),
		)

		result = append(result, record)
	}

	return result, nil
}

// writeRenditions создаёт директорию записи, генерирует все варианты
// и записывает их на диск.
func (s *UploadService) writeRenditions(ctx context.Context, record *model.MediaRecord, data []byte) error {
	dir := s.resolver.RecordDir(record.Extension, record.Timestamp, record.ID)
	if err := s.store.EnsureDir(dir); err != nil {
		return err
	}

	variants, err := renditions.Generate(ctx, data, model.SizeTiers)
	if err != nil {
		return err
	}

	for size, encoded := range variants {
		path := s.resolver.RenditionPath(record.Extension, record.Timestamp, record.ID, size)
		if err := s.store.WriteFile(path, encoded); err != nil {
			return err
		}
		renditionsGeneratedTotal.Inc()
	}

	return nil
}

// ParseSidecar разбирает опциональные sidecar-параметры батча:
// JSON вида {"names": [...], "descriptions": [...]} с позиционной
// привязкой к файлам.
//
// Разбор защитный: для каждого файла значением по умолчанию служит
// имя до первой точки в оригинальном имени файла и пустое описание;
// некорректный sidecar никогда не прерывает батч — только откат к
// значениям по умолчанию (ok=false позволяет вызывающему залогировать).
func ParseSidecar(raw string, files []UploadFile) (names, descriptions []string, ok bool) {
	names = make([]string, len(files))
	descriptions = make([]string, len(files))
	for i, f := range files {
		names[i] = filenameStem(f.OriginalFilename)
	}

	if raw == "" {
		return names, descriptions, true
	}

	var params struct {
		Names        []string `json:"names"`
		Descriptions []string `json:"descriptions"`
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return names, descriptions, false
	}

	for i := 0; i < len(files) && i < len(params.Names); i++ {
		if params.Names[i] != "" {
			names[i] = params.Names[i]
		}
	}
	for i := 0; i < len(files) && i < len(params.Descriptions); i++ {
		descriptions[i] = params.Descriptions[i]
	}

	return names, descriptions, true
}

// filenameStem возвращает часть имени файла до первой точки.
func filenameStem(filename string) string {
	if idx := strings.IndexByte(filename, '.'); idx >= 0 {
		return filename[:idx]
	}
	return filename
}
