package activate

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/community-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/services/trial"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) ActivateTrial(ctx context.Context, req trial.Request) (trial.Activation, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(trial.Activation), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestActivateHandler(t *testing.T) {
	end := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	community := "c1"

	tests := []struct {
		name           string
		body           string
		userID         string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "успешная активация",
			body:   `{"trial_type":"community","community_id":"c1"}`,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("ActivateTrial", mock.Anything, trial.Request{
					UserID:      "u1",
					TrialType:   models.TrialTypeCommunity,
					CommunityID: &community,
					Origin:      models.TrialOrigin{IP: "203.0.113.7", UserAgent: "test-agent"},
				}).Return(trial.Activation{Success: true, TrialEndDate: &end}, nil).Once()
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   `{"status":"OK","data":{"success":true,"trial_end_date":"2025-01-15T10:00:00Z"}}`,
		},
		{
			name:   "отказ по правилам",
			body:   `{"trial_type":"user"}`,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("ActivateTrial", mock.Anything, mock.AnythingOfType("trial.Request")).
					Return(trial.Activation{Reason: trial.ReasonUserUsedTrial}, nil).Once()
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `{"status":"Error","error":"User has already used a free trial","data":{"success":false,"reason":"User has already used a free trial"}}`,
		},
		{
			name:   "не указано сообщество",
			body:   `{"trial_type":"community"}`,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("ActivateTrial", mock.Anything, mock.AnythingOfType("trial.Request")).
					Return(trial.Activation{}, trial.ErrCommunityRequired).Once()
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"community id is required for community trial"}`,
		},
		{
			name:           "неизвестный тип",
			body:           `{"trial_type":"team"}`,
			userID:         "u1",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"field TrialType must be one of: user community"}`,
		},
		{
			name:           "некорректный JSON",
			body:           `not a json`,
			userID:         "u1",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid request body"}`,
		},
		{
			name:           "отсутствует авторизация",
			body:           `{"trial_type":"user"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"unauthorized"}`,
		},
		{
			name:   "ошибка хранилища",
			body:   `{"trial_type":"user"}`,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("ActivateTrial", mock.Anything, mock.AnythingOfType("trial.Request")).
					Return(trial.Activation{}, trial.ErrActivateTrial).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"could not activate trial"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)
			handler := New(newNoopLogger(), svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/trials", bytes.NewBufferString(tt.body))
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			req.Header.Set("User-Agent", "test-agent")
			if tt.userID != "" {
				req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserID, tt.userID))
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
			svc.AssertExpectations(t)
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 198.51.100.2 ")
	assert.Equal(t, "198.51.100.2", clientIP(req))
}
