// Package webhook реализует HTTP-обработчик вебхуков платёжного шлюза.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/community-billing/internal/http/response"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/metrics"
	"github.com/magabrotheeeer/community-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/community-billing/internal/services/payment"
	"github.com/magabrotheeeer/community-billing/internal/services/suspension"
)

// SignatureHeader заголовок с HMAC-SHA256 тела запроса.
const SignatureHeader = "X-Api-Signature"

const maxBodySize = 1 << 20

// Service обработка событий шлюза.
type Service interface {
	HandleWebhook(ctx context.Context, evt paymentprovider.WebhookEvent) error
}

// Handler обработчик POST /payments/webhook.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string
}

// New создает новый Handler.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
	}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного шлюза
// @Description Активация или списание по подписке восстанавливает доступ к сообществу, отмена или истечение запускает сверку.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param X-Api-Signature header string true "HMAC-SHA256 тела в hex"
// @Success 200 {object} response.Response "Событие обработано"
// @Failure 400 {object} response.ErrorResponse "Некорректное тело"
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 500 {object} response.ErrorResponse "Ошибка обработки, шлюз повторит запрос"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		h.reply(w, r, "unknown", "bad_request", http.StatusBadRequest, "invalid request body")
		return
	}

	if err := paymentprovider.VerifySignature(body, r.Header.Get(SignatureHeader), h.webhookSecret); err != nil {
		log.Warn("invalid or missing webhook signature")
		h.reply(w, r, "unknown", "unauthorized", http.StatusUnauthorized, "invalid signature")
		return
	}

	var evt paymentprovider.WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		h.reply(w, r, "unknown", "bad_request", http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.service.HandleWebhook(r.Context(), evt)
	switch {
	case errors.Is(err, payment.ErrUnsupportedEvent):
		log.Info("ignored webhook event", slog.String("event", evt.Event))
		h.reply(w, r, evt.Event, "ignored", http.StatusOK, "")
	case errors.Is(err, payment.ErrInvalidPayload):
		log.Warn("webhook payload rejected", sl.Err(err))
		h.reply(w, r, evt.Event, "bad_request", http.StatusBadRequest, err.Error())
	case errors.Is(err, suspension.ErrCommunityNotFound), errors.Is(err, suspension.ErrSubscriptionNotPaying):
		log.Warn("webhook refers to unknown state", sl.Err(err))
		h.reply(w, r, evt.Event, "rejected", http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		log.Error("failed to process webhook event", sl.Err(err))
		h.reply(w, r, evt.Event, "error", http.StatusInternalServerError, "could not process event")
	default:
		log.Info("webhook processed", slog.String("event", evt.Event),
			slog.String("subscription_id", evt.Payload.Subscription.Entity.ID))
		h.reply(w, r, evt.Event, "ok", http.StatusOK, "")
	}
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, event, result string, status int, msg string) {
	metrics.WebhookRequests.WithLabelValues(event, result).Inc()
	render.Status(r, status)
	if status >= http.StatusBadRequest {
		render.JSON(w, r, response.Error(msg))
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]string{"result": result}))
}
