package webhook

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/community-billing/internal/metrics"
	"github.com/magabrotheeeer/community-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/community-billing/internal/services/payment"
)

const secret = "whsec_test"

type MockService struct {
	mock.Mock
}

func (m *MockService) HandleWebhook(ctx context.Context, evt paymentprovider.WebhookEvent) error {
	return m.Called(ctx, evt).Error(0)
}

func sign(body string) string {
	return hex.EncodeToString(paymentprovider.Sign([]byte(body), secret))
}

func TestWebhookHandler(t *testing.T) {
	activated := `{"event":"subscription.activated","payload":{"subscription":{"entity":{"id":"sub_1","status":"active","notes":{"community_id":"c1"}}}}}`

	tests := []struct {
		name           string
		body           string
		signature      string
		serviceErr     error
		callsService   bool
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "событие обработано",
			body:           activated,
			signature:      sign(activated),
			callsService:   true,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"OK","data":{"result":"ok"}}`,
		},
		{
			name:           "неверная подпись",
			body:           activated,
			signature:      sign(activated + " "),
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"invalid signature"}`,
		},
		{
			name:           "нет подписи",
			body:           activated,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"invalid signature"}`,
		},
		{
			name:           "некорректный JSON",
			body:           `{"event":`,
			signature:      sign(`{"event":`),
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid request body"}`,
		},
		{
			name:           "неизвестное событие",
			body:           activated,
			signature:      sign(activated),
			serviceErr:     fmt.Errorf("payment.HandleWebhook: %w", payment.ErrUnsupportedEvent),
			callsService:   true,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"OK","data":{"result":"ignored"}}`,
		},
		{
			name:           "нет подписки в событии",
			body:           activated,
			signature:      sign(activated),
			serviceErr:     payment.ErrInvalidPayload,
			callsService:   true,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid webhook payload"}`,
		},
		{
			name:           "ошибка обработки",
			body:           activated,
			signature:      sign(activated),
			serviceErr:     errors.New("db down"),
			callsService:   true,
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"could not process event"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			if tt.callsService {
				svc.On("HandleWebhook", mock.Anything, mock.MatchedBy(func(evt paymentprovider.WebhookEvent) bool {
					return evt.Payload.Subscription.Entity.ID == "sub_1" && evt.Payload.Subscription.Entity.CommunityID() == "c1"
				})).Return(tt.serviceErr).Once()
			}
			handler := New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, secret)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewBufferString(tt.body))
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
			svc.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_CountsRequests(t *testing.T) {
	body := `{"event":"subscription.charged","payload":{"subscription":{"entity":{"id":"sub_1","notes":{"community_id":"c1"}}}}}`
	svc := new(MockService)
	svc.On("HandleWebhook", mock.Anything, mock.Anything).Return(nil).Once()
	handler := New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, secret)

	counter := metrics.WebhookRequests.WithLabelValues(paymentprovider.EventSubscriptionCharged, "ok")
	before := testutil.ToFloat64(counter)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewBufferString(body))
	req.Header.Set(SignatureHeader, sign(body))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.InDelta(t, before+1, testutil.ToFloat64(counter), 0.001)
}
