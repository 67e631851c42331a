// Package activate реализует HTTP-обработчик активации пробного периода.
package activate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

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

// Service активация пробного периода.
type Service interface {
	ActivateTrial(ctx context.Context, req trial.Request) (trial.Activation, error)
}

// Handler обработчик POST /trials.
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
// @Summary Активировать пробный период
// @Description Отказ по правилам возвращается с кодом 409 и причиной в поле data.reason.
// @Tags Trials
// @Accept  json
// @Produce  json
// @Param request body Request true "Тип пробного периода и сообщество"
// @Success 201 {object} response.Response "Пробный период активирован"
// @Failure 400 {object} response.ErrorResponse "Некорректный запрос"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.Response "Пробный период недоступен"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /trials [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.trial.activate"
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

	res, err := h.service.ActivateTrial(r.Context(), trial.Request{
		UserID:      userID,
		TrialType:   models.TrialType(req.TrialType),
		CommunityID: req.CommunityID,
		Origin: models.TrialOrigin{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		},
	})
	if errors.Is(err, trial.ErrCommunityRequired) || errors.Is(err, trial.ErrInvalidTrialType) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}
	if err != nil {
		log.Error("failed to activate trial", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not activate trial"))
		return
	}

	if !res.Success {
		log.Info("trial activation rejected", slog.String("reason", res.Reason))
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Response{Status: response.StatusError, Error: res.Reason, Data: res})
		return
	}

	log.Info("trial activated", slog.String("trial_type", req.TrialType))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(res))
}

// clientIP берёт первый адрес из X-Forwarded-For, иначе адрес соединения.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
