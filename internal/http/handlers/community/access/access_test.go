package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/community-billing/internal/models"
	accesssvc "github.com/magabrotheeeer/community-billing/internal/services/access"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Status(ctx context.Context, communityID string) (*models.AccessStatus, error) {
	args := m.Called(ctx, communityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AccessStatus), args.Error(1)
}

func TestAccessHandler(t *testing.T) {
	tests := []struct {
		name           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "приостановленное сообщество",
			setupMock: func(m *MockService) {
				m.On("Status", mock.Anything, "c1").Return(&models.AccessStatus{
					CommunityID:     "c1",
					Suspended:       true,
					Reason:          models.SuspensionReasonTrialExpired,
					PaymentStatus:   models.PaymentStatusExpired,
					ReactivationURL: "https://app.example.com/communities/c1/billing",
				}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody: `{"status":"OK","data":{"community_id":"c1","suspended":true,
				"reason":"Trial expired without payment","payment_status":"expired",
				"reactivation_url":"https://app.example.com/communities/c1/billing"}}`,
		},
		{
			name: "сообщество не найдено",
			setupMock: func(m *MockService) {
				m.On("Status", mock.Anything, "c1").Return(nil, accesssvc.ErrCommunityNotFound).Once()
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"status":"Error","error":"community not found"}`,
		},
		{
			name: "ошибка хранилища",
			setupMock: func(m *MockService) {
				m.On("Status", mock.Anything, "c1").Return(nil, errors.New("db down")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"could not get access status"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)
			router := chi.NewRouter()
			router.Get("/communities/{id}/access", New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).ServeHTTP)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/communities/c1/access", nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
			svc.AssertExpectations(t)
		})
	}
}
