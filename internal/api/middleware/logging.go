// logging.go — access-лог входящих HTTP-запросов через slog.
// Обёртка responseWriter перехватывает статус-код и размер ответа;
// она же используется метриками (metrics.go). Идентификатор аккаунта,
// появляющийся после проверки JWT, попадает в лог через logMeta.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// responseWriter — обёртка для перехвата статус-кода и размера ответа.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к обёрнутому ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// logMeta — атрибуты запроса, которые становятся известны уже после
// старта обработки (аккаунт после проверки токена). RequestLogger
// кладёт контейнер в контекст, нижележащие middleware его заполняют.
type logMeta struct {
	userID        int64
	authenticated bool
}

type logMetaKey struct{}

// SetLogUserID помечает текущий запрос идентификатором аккаунта для
// access-лога. Вызывается auth middleware после успешной проверки
// токена; вне RequestLogger — no-op.
func SetLogUserID(ctx context.Context, userID int64) {
	if m, ok := ctx.Value(logMetaKey{}).(*logMeta); ok {
		m.userID = userID
		m.authenticated = true
	}
}

// probePath определяет служебные пути (health-пробы, опрос метрик),
// которые запрашиваются постоянно и логируются на уровне DEBUG,
// чтобы не засорять журнал.
func probePath(path string) bool {
	return path == "/metrics" || strings.HasPrefix(path, "/health/")
}

// RequestLogger возвращает middleware, логирующий каждый HTTP-запрос:
// метод, путь, статус, длительность, размер ответа, remote_addr и,
// для аутентифицированных запросов, идентификатор аккаунта.
// Уровень зависит от статус-кода: INFO (1xx-3xx), WARN (4xx), ERROR (5xx);
// успешные health-пробы и опрос метрик — DEBUG.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			meta := &logMeta{}
			r = r.WithContext(context.WithValue(r.Context(), logMetaKey{}, meta))

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			case probePath(r.URL.Path):
				level = slog.LevelDebug
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if meta.authenticated {
				attrs = append(attrs, slog.Int64("user_id", meta.userID))
			}

			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}
