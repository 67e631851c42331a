package cancel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/community-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/services/suspension"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CancelTrial(ctx context.Context, communityID, callerID string) (*models.Community, error) {
	args := m.Called(ctx, communityID, callerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Community), args.Error(1)
}

func TestCancelHandler(t *testing.T) {
	at := time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)
	cancelled := &models.Community{
		ID:               "c1",
		AdminID:          "u1",
		PaymentStatus:    models.PaymentStatusUnpaid,
		Suspended:        true,
		SuspendedAt:      &at,
		SuspensionReason: models.SuspensionReasonTrialCancelled,
		AdminTrialInfo:   models.AdminTrialInfo{Cancelled: true, HasUsedTrial: true},
	}

	tests := []struct {
		name           string
		err            error
		community      *models.Community
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "успешная отмена",
			community:      cancelled,
			expectedStatus: http.StatusOK,
			expectedBody: `{"status":"OK","data":{"community_id":"c1","payment_status":"unpaid","suspended":true,
				"suspended_at":"2025-01-03T12:00:00Z","suspension_reason":"trial_cancelled",
				"admin_trial_info":{"activated":false,"has_used_trial":true,"cancelled":true}}}`,
		},
		{
			name:           "сообщество не найдено",
			err:            suspension.ErrCommunityNotFound,
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"status":"Error","error":"community not found"}`,
		},
		{
			name:           "не администратор",
			err:            suspension.ErrNotCommunityAdmin,
			expectedStatus: http.StatusForbidden,
			expectedBody:   `{"status":"Error","error":"only the community admin can cancel the trial"}`,
		},
		{
			name:           "сообщество оплачено",
			err:            suspension.ErrCommunityPaid,
			expectedStatus: http.StatusConflict,
			expectedBody:   `{"status":"Error","error":"community has an active subscription"}`,
		},
		{
			name:           "пробного периода не было",
			err:            suspension.ErrNoTrial,
			expectedStatus: http.StatusConflict,
			expectedBody:   `{"status":"Error","error":"community has no trial to cancel"}`,
		},
		{
			name:           "ошибка хранилища",
			err:            fmt.Errorf("%w: db down", suspension.ErrSuspension),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"could not cancel trial"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			if tt.community != nil {
				svc.On("CancelTrial", mock.Anything, "c1", "u1").Return(tt.community, nil).Once()
			} else {
				svc.On("CancelTrial", mock.Anything, "c1", "u1").Return(nil, tt.err).Once()
			}
			router := chi.NewRouter()
			router.Post("/communities/{id}/trial/cancel", New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).ServeHTTP)

			req := httptest.NewRequest(http.MethodPost, "/communities/c1/trial/cancel", nil)
			req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserID, "u1"))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
			svc.AssertExpectations(t)
		})
	}
}
