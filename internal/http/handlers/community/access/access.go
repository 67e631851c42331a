// Package access реализует HTTP-обработчик состояния доступа к сообществу.
package access

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/community-billing/internal/http/response"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/models"
	accesssvc "github.com/magabrotheeeer/community-billing/internal/services/access"
)

// Service состояние доступа.
type Service interface {
	Status(ctx context.Context, communityID string) (*models.AccessStatus, error)
}

// Handler обработчик GET /communities/{id}/access.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Состояние доступа к сообществу
// @Description Для приостановленного сообщества возвращает причину и ссылку на оплату.
// @Tags Communities
// @Produce  json
// @Param id path string true "ID сообщества"
// @Success 200 {object} response.Response "Состояние доступа"
// @Failure 404 {object} response.ErrorResponse "Сообщество не найдено"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /communities/{id}/access [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.community.access"
	communityID := chi.URLParam(r, "id")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	status, err := h.service.Status(r.Context(), communityID)
	if errors.Is(err, accesssvc.ErrCommunityNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("community not found"))
		return
	}
	if err != nil {
		log.Error("failed to get access status", slog.String("community_id", communityID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get access status"))
		return
	}

	render.JSON(w, r, response.OKWithData(status))
}
