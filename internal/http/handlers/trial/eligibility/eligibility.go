// Package eligibility реализует HTTP-обработчик проверки права на пробный период.
package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/community-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/community-billing/internal/http/response"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/services/trial"
)

// Request тело запроса.
type Request struct {
	TrialType   string  `json:"trial_type" validate:"required,oneof=user community"`
	CommunityID *string `json:"community_id,omitempty"`
}

// Service проверка права на пробный период.
type Service interface {
	CheckEligibility(ctx context.Context, userID string, trialType models.TrialType, communityID *string) (trial.Eligibility, error)
}

// Handler обработчик POST /trials/eligibility.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Проверить право на пробный период
// @Tags Trials
// @Accept  json
// @Produce  json
// @Param request body Request true "Тип пробного периода и сообщество"
// @Success 200 {object} response.Response "Результат проверки"
// @Failure 400 {object} response.ErrorResponse "Некорректный запрос"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /trials/eligibility [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.trial.eligibility"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFromContext(r.Context())
	if !ok {
		log.Error("user id not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	res, err := h.service.CheckEligibility(r.Context(), userID, models.TrialType(req.TrialType), req.CommunityID)
	if errors.Is(err, trial.ErrCommunityRequired) || errors.Is(err, trial.ErrInvalidTrialType) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}
	if err != nil {
		log.Error("failed to check eligibility", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not check eligibility"))
		return
	}

	log.Debug("eligibility checked", slog.Bool("eligible", res.Eligible), slog.String("reason", res.Reason))
	render.JSON(w, r, response.OKWithData(res))
}
