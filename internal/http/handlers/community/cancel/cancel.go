// Package cancel реализует HTTP-обработчик отмены пробного периода сообщества.
package cancel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/community-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/community-billing/internal/http/response"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/services/suspension"
)

// Service отмена пробного периода.
type Service interface {
	CancelTrial(ctx context.Context, communityID, callerID string) (*models.Community, error)
}

// View состояние оплаты сообщества после отмены.
type View struct {
	CommunityID      string                `json:"community_id"`
	PaymentStatus    models.PaymentStatus  `json:"payment_status"`
	Suspended        bool                  `json:"suspended"`
	SuspendedAt      *time.Time            `json:"suspended_at,omitempty"`
	SuspensionReason string                `json:"suspension_reason,omitempty"`
	AdminTrialInfo   models.AdminTrialInfo `json:"admin_trial_info"`
}

// Handler обработчик POST /communities/{id}/trial/cancel.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Отменить пробный период сообщества
// @Description Доступ к сообществу приостанавливается сразу. Повторная отмена возвращает текущее состояние.
// @Tags Communities
// @Produce  json
// @Param id path string true "ID сообщества"
// @Success 200 {object} response.Response "Состояние сообщества"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Пользователь не администратор сообщества"
// @Failure 404 {object} response.ErrorResponse "Сообщество не найдено"
// @Failure 409 {object} response.ErrorResponse "Сообщество уже оплачено"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /communities/{id}/trial/cancel [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.community.cancel"
	communityID := chi.URLParam(r, "id")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("community_id", communityID),
	)

	userID, ok := middlewarectx.UserIDFromContext(r.Context())
	if !ok {
		log.Error("user id not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	c, err := h.service.CancelTrial(r.Context(), communityID, userID)
	switch {
	case errors.Is(err, suspension.ErrCommunityNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("community not found"))
		return
	case errors.Is(err, suspension.ErrNotCommunityAdmin):
		log.Warn("cancel requested by non-admin", slog.String("user_id", userID))
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, response.Error(err.Error()))
		return
	case errors.Is(err, suspension.ErrCommunityPaid), errors.Is(err, suspension.ErrNoTrial):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error(err.Error()))
		return
	case err != nil:
		log.Error("failed to cancel trial", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not cancel trial"))
		return
	}

	log.Info("trial cancel handled")
	render.JSON(w, r, response.OKWithData(View{
		CommunityID:      c.ID,
		PaymentStatus:    c.PaymentStatus,
		Suspended:        c.Suspended,
		SuspendedAt:      c.SuspendedAt,
		SuspensionReason: c.SuspensionReason,
		AdminTrialInfo:   c.AdminTrialInfo,
	}))
}
