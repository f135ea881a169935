package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dm-service/internal/middleware"
	"dm-service/internal/mocks"
	"dm-service/internal/models"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

func setupCallRouter(t *testing.T, calls *mocks.CallLogRepositoryMock) *gin.Engine {
	t.Helper()
	return setupAuditedCallRouter(t, calls, nil)
}

func setupAuditedCallRouter(t *testing.T, calls *mocks.CallLogRepositoryMock, audit *telemetry.AuditEmitter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler := NewCallHandler(calls, audit, time.Second, zaptest.NewLogger(t))
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, int64(1))
		c.Next()
	})
	r.POST("/calls", handler.CreateCall)
	r.PATCH("/calls/:call_id", handler.UpdateCall)
	r.GET("/calls", handler.ListCalls)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateCallDefaultsToMissed(t *testing.T) {
	calls := new(mocks.CallLogRepositoryMock)
	calls.On("Create", mock.Anything, int64(1), int64(2), models.CallStatusMissed).
		Return(models.CallLog{ID: 5, CallerID: 1, ReceiverID: 2, Status: models.CallStatusMissed}, nil).Once()

	rec := serve(setupCallRouter(t, calls), http.MethodPost, "/calls", `{"receiver_id":2}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	calls.AssertExpectations(t)
}

func TestCreateCallRejectsBadInput(t *testing.T) {
	calls := new(mocks.CallLogRepositoryMock)
	r := setupCallRouter(t, calls)

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/calls", `{"receiver_id":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/calls", `{"receiver_id":2,"status":"ringing"}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/calls", `{}`).Code)
	calls.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateCallWithEndTime(t *testing.T) {
	end := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)
	calls := new(mocks.CallLogRepositoryMock)
	calls.On("Update", mock.Anything, int64(5), int64(1), models.CallStatusAccepted, mock.MatchedBy(func(got *time.Time) bool {
		return got != nil && got.Equal(end)
	})).Return(models.CallLog{ID: 5, Status: models.CallStatusAccepted, EndTime: &end}, nil).Once()

	rec := serve(setupCallRouter(t, calls), http.MethodPatch, "/calls/5", `{"status":"accepted","end_time":"2024-03-01T10:05:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	calls.AssertExpectations(t)
}

func TestUpdateCallNotFound(t *testing.T) {
	calls := new(mocks.CallLogRepositoryMock)
	calls.On("Update", mock.Anything, int64(9), int64(1), models.CallStatusRejected, (*time.Time)(nil)).
		Return(nil, repositories.ErrCallLogNotFound).Once()

	rec := serve(setupCallRouter(t, calls), http.MethodPatch, "/calls/9", `{"status":"rejected"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCallsDirection(t *testing.T) {
	calls := new(mocks.CallLogRepositoryMock)
	calls.On("ListForUser", mock.Anything, int64(1)).Return([]models.CallLog{
		{ID: 2, CallerID: 3, ReceiverID: 1, Status: models.CallStatusAccepted},
		{ID: 1, CallerID: 1, ReceiverID: 2, Status: models.CallStatusMissed},
	}, nil).Once()

	rec := serve(setupCallRouter(t, calls), http.MethodGet, "/calls", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Calls []struct {
			ID          int64  `json:"id"`
			Direction   string `json:"direction"`
			OtherUserID int64  `json:"other_user_id"`
		} `json:"calls"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Calls, 2)
	assert.Equal(t, "incoming", resp.Calls[0].Direction)
	assert.Equal(t, int64(3), resp.Calls[0].OtherUserID)
	assert.Equal(t, "outgoing", resp.Calls[1].Direction)
	assert.Equal(t, int64(2), resp.Calls[1].OtherUserID)
}

func TestCallLifecycleEmitsAudit(t *testing.T) {
	calls := new(mocks.CallLogRepositoryMock)
	calls.On("Create", mock.MatchedBy(hasDeadline), int64(1), int64(2), models.CallStatusAccepted).
		Return(models.CallLog{ID: 5, CallerID: 1, ReceiverID: 2, Status: models.CallStatusAccepted}, nil).Once()
	calls.On("Update", mock.MatchedBy(hasDeadline), int64(5), int64(1), models.CallStatusRejected, (*time.Time)(nil)).
		Return(models.CallLog{ID: 5, Status: models.CallStatusRejected}, nil).Once()

	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit.logs", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Text == "Call logged: accepted" && *env.UserID == "1"
	}), mock.Anything).Return(nil).Once()
	pub.On("Publish", mock.Anything, "audit.logs", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Text == "Call updated: rejected"
	}), mock.Anything).Return(nil).Once()
	r := setupAuditedCallRouter(t, calls, telemetry.NewAuditEmitter(pub, "audit.logs", "dm-service", "test", zaptest.NewLogger(t)))

	require.Equal(t, http.StatusCreated, serve(r, http.MethodPost, "/calls", `{"receiver_id":2,"status":"accepted"}`).Code)
	require.Equal(t, http.StatusOK, serve(r, http.MethodPatch, "/calls/5", `{"status":"rejected"}`).Code)

	pub.AssertExpectations(t)
	calls.AssertExpectations(t)
}
