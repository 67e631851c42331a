// Package reconcile реализует административный HTTP-обработчик сверки сообщества.
package reconcile

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
	reconcilesvc "github.com/magabrotheeeer/community-billing/internal/services/reconcile"
)

// Service сверка сообщества.
type Service interface {
	Reconcile(ctx context.Context, communityID string) ([]reconcilesvc.Finding, error)
}

// Handler обработчик POST /admin/communities/{id}/reconcile.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Сверить состояние оплаты сообщества
// @Description Доступно только суперадминистратору. Возвращает найденные и исправленные проблемы.
// @Tags Admin
// @Produce  json
// @Param id path string true "ID сообщества"
// @Success 200 {object} response.Response "Список исправлений"
// @Failure 403 {object} response.ErrorResponse "Недостаточно прав"
// @Failure 404 {object} response.ErrorResponse "Сообщество не найдено"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /admin/communities/{id}/reconcile [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.reconcile"
	communityID := chi.URLParam(r, "id")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("community_id", communityID),
	)

	findings, err := h.service.Reconcile(r.Context(), communityID)
	if errors.Is(err, reconcilesvc.ErrCommunityNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("community not found"))
		return
	}
	if err != nil {
		log.Error("failed to reconcile community", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not reconcile community"))
		return
	}
	if findings == nil {
		findings = []reconcilesvc.Finding{}
	}

	log.Info("community reconciled", slog.Int("findings", len(findings)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"community_id": communityID,
		"findings":     findings,
	}))
}
