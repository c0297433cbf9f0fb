// handler.go — сборка маршрутов API из доменных handlers.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuthMiddleware — middleware аутентификации для защищённых маршрутов.
type AuthMiddleware interface {
	Middleware() func(http.Handler) http.Handler
}

// Router собирает маршруты API.
//
// Публичные маршруты: health probes, /metrics, ограничения загрузки
// и отдача изображений (ссылки на изображения встраиваются в страницы
// без токена).
// Остальные маршруты требуют JWT; auth == nil отключает аутентификацию
// (dev-режим, идентификатор аккаунта берётся из контекста тестов).
func Router(media *MediaHandler, health *HealthHandler, auth AuthMiddleware) chi.Router {
	router := chi.NewRouter()

	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/api/v1/media", func(r chi.Router) {
		r.Get("/image/{id}/{size}", media.Image)
		r.Get("/params", media.Params)

		r.Group(func(protected chi.Router) {
			if auth != nil {
				protected.Use(auth.Middleware())
			}
			protected.Post("/", media.Upload)
			protected.Get("/album/{album}", media.Album)
			protected.Delete("/{id}", media.Delete)
		})
	})

	return router
}
