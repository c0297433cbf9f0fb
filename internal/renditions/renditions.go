// Пакет renditions — генерация rendition-файлов из загруженного изображения.
// Декодирует входной буфер, для каждого размерного уровня выполняет
// вписывающий resize (без увеличения и без кадрирования) и перекодирует
// в канонический webp. Все уровни обрабатываются конкурентно.
package renditions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/arturkryukov/mediastore/internal/domain/model"
)

// ErrDecode — входной буфер не декодируется как растровое изображение.
var ErrDecode = errors.New("не удалось декодировать изображение")

// Generate декодирует буфер и возвращает webp-кодированные варианты
// для каждого размерного уровня: map[сторона уровня]байты.
//
// Семантика «всё или ничего»: варианты генерируются конкурентно и
// совместно ожидаются; ошибка любого уровня отменяет остальные и
// возвращается одной ошибкой — частичный результат не отдаётся.
func Generate(ctx context.Context, data []byte, tiers []model.SizeTier) (map[int][]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	encoded := make([][]byte, len(tiers))

	g, ctx := errgroup.WithContext(ctx)
	for i, tier := range tiers {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			out, err := encodeTier(src, tier)
			if err != nil {
				return fmt.Errorf("уровень %d: %w", tier.Bound, err)
			}
			encoded[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make(map[int][]byte, len(tiers))
	for i, tier := range tiers {
		result[tier.Bound] = encoded[i]
	}
	return result, nil
}

// encodeTier вписывает изображение в ограничивающий квадрат уровня
// и кодирует в webp с качеством уровня.
//
// imaging.Fit сохраняет пропорции и только уменьшает: изображение,
// уже помещающееся в квадрат, не масштабируется.
func encodeTier(src image.Image, tier model.SizeTier) ([]byte, error) {
	fitted := imaging.Fit(src, tier.Bound, tier.Bound, imaging.Lanczos)

	var buf bytes.Buffer
	opts := &webp.Options{Lossless: false, Quality: float32(tier.Quality)}
	if err := webp.Encode(&buf, fitted, opts); err != nil {
		return nil, fmt.Errorf("ошибка webp-кодирования: %w", err)
	}
	return buf.Bytes(), nil
}
