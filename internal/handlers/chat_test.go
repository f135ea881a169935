package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dm-service/internal/messaging"
	"dm-service/internal/middleware"
	"dm-service/internal/mocks"
	"dm-service/internal/models"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

// offlineSessions accepts nothing: every push reports the peer as offline.
type offlineSessions struct{}

func (offlineSessions) SendTo(int64, any) bool { return false }
func (offlineSessions) SendToMany([]int64, any) int { return 0 }
func (offlineSessions) Broadcast(any, int64) int { return 0 }
func (offlineSessions) IsOnline(userID int64) bool { return userID == 2 }

type chatFixture struct {
	convs    *mocks.ConversationRepositoryMock
	messages *mocks.MessageRepositoryMock
	audit    *mocks.PublisherMock
	router   *gin.Engine
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	f := &chatFixture{
		convs:    new(mocks.ConversationRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		audit:    new(mocks.PublisherMock),
	}
	f.audit.On("Publish", mock.Anything, "audit.logs", mock.Anything, mock.Anything).Return(nil).Maybe()
	emitter := telemetry.NewAuditEmitter(f.audit, "audit.logs", "dm-service", "test", log)
	sessions := offlineSessions{}
	resolver := messaging.NewResolver(f.convs)
	router := messaging.NewRouter(resolver, f.messages, sessions, time.Second, log)
	presence := messaging.NewPresence(sessions, resolver, f.messages, new(mocks.UserRepositoryMock),
		messaging.PresenceOptions{StoreTimeout: time.Second}, log)
	handler := NewChatHandler(f.convs, f.messages, resolver, router, presence, sessions, emitter, time.Second, log)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, int64(1))
		c.Next()
	})
	r.GET("/contacts", handler.ListContacts)
	r.GET("/messages/:contact_id", handler.GetMessages)
	r.POST("/messages/:contact_id", handler.PostMessage)
	r.POST("/messages/:contact_id/read", handler.MarkRead)
	f.router = r
	return f
}

// auditTexts returns the text of every audit envelope published so far.
func (f *chatFixture) auditTexts() []string {
	var texts []string
	for _, call := range f.audit.Calls {
		if env, ok := call.Arguments.Get(2).(telemetry.AuditEnvelope); ok {
			texts = append(texts, env.Payload.Text)
		}
	}
	return texts
}

func hasDeadline(ctx context.Context) bool {
	_, ok := ctx.Deadline()
	return ok
}

func (f *chatFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestListContactsMarksOnline(t *testing.T) {
	f := newChatFixture(t)
	f.convs.On("ListContacts", mock.MatchedBy(hasDeadline), int64(1)).Return([]models.ContactSummary{
		{ConversationID: 10, ContactID: 2, Username: "bob", UnreadCount: 3},
		{ConversationID: 11, ContactID: 3, Username: "carol"},
	}, nil).Once()

	rec := f.do(http.MethodGet, "/contacts", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Contacts []models.ContactSummary `json:"contacts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Contacts, 2)
	assert.True(t, resp.Contacts[0].Online)
	assert.Equal(t, 3, resp.Contacts[0].UnreadCount)
	assert.False(t, resp.Contacts[1].Online)
	f.convs.AssertExpectations(t)
}

func TestListContactsRepoError(t *testing.T) {
	f := newChatFixture(t)
	f.convs.On("ListContacts", mock.Anything, int64(1)).Return(nil, assert.AnError).Once()

	rec := f.do(http.MethodGet, "/contacts", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetMessagesWithoutConversation(t *testing.T) {
	f := newChatFixture(t)
	f.convs.On("FindByPair", mock.Anything, int64(1), int64(2)).Return(nil, repositories.ErrConversationNotFound).Once()

	rec := f.do(http.MethodGet, "/messages/2", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
	f.messages.AssertNotCalled(t, "ListForConversation", mock.Anything, mock.Anything)
}

func TestGetMessagesReturnsHistory(t *testing.T) {
	f := newChatFixture(t)
	f.convs.On("FindByPair", mock.MatchedBy(hasDeadline), int64(1), int64(2)).Return(models.Conversation{ID: 10, User1ID: 1, User2ID: 2}, nil).Once()
	f.messages.On("ListForConversation", mock.MatchedBy(hasDeadline), int64(10)).Return([]models.Message{
		{ID: 1, ConversationID: 10, SenderID: 1, Type: "text", Content: "hi"},
		{ID: 2, ConversationID: 10, SenderID: 2, Type: "text", Content: "hey"},
	}, nil).Once()

	rec := f.do(http.MethodGet, "/messages/2", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ConversationID int64            `json:"conversation_id"`
		Messages       []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(10), resp.ConversationID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "hey", resp.Messages[1].Content)
}

func TestGetMessagesInvalidContact(t *testing.T) {
	f := newChatFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/messages/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/messages/0", "").Code)
}

func TestPostMessageCreated(t *testing.T) {
	f := newChatFixture(t)
	f.convs.On("FindOrCreate", mock.Anything, int64(1), int64(2)).Return(models.Conversation{ID: 10, User1ID: 1, User2ID: 2}, nil).Once()
	f.messages.On("Create", mock.Anything, mock.Anything).
		Return(models.Message{ID: 7, ConversationID: 10, SenderID: 1, Type: "text", Content: "hello"}, nil).Once()

	rec := f.do(http.MethodPost, "/messages/2", `{"content":"hello"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, int64(7), msg.ID)
	assert.False(t, msg.Delivered)
	f.messages.AssertExpectations(t)
}

func TestPostMessageToSelfIsBadRequest(t *testing.T) {
	f := newChatFixture(t)

	rec := f.do(http.MethodPost, "/messages/1", `{"content":"me"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPostMessageMissingContent(t *testing.T) {
	f := newChatFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/messages/2", `{}`).Code)
}

func TestPostMessageStoreUnavailable(t *testing.T) {
	f := newChatFixture(t)
	f.convs.On("FindOrCreate", mock.Anything, int64(1), int64(2)).Return(nil, errors.New("connection refused")).Once()

	rec := f.do(http.MethodPost, "/messages/2", `{"content":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMarkReadReturnsCount(t *testing.T) {
	f := newChatFixture(t)
	f.convs.On("FindByPair", mock.Anything, int64(1), int64(2)).Return(models.Conversation{ID: 10, User1ID: 1, User2ID: 2}, nil).Once()
	f.messages.On("MarkReadFrom", mock.Anything, int64(10), int64(2)).Return([]int64{3, 4}, nil).Once()

	rec := f.do(http.MethodPost, "/messages/2/read", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":2}`, rec.Body.String())
}

func TestPostMessageEmitsAudit(t *testing.T) {
	f := newChatFixture(t)
	f.convs.On("FindOrCreate", mock.Anything, int64(1), int64(2)).Return(models.Conversation{ID: 10, User1ID: 1, User2ID: 2}, nil).Once()
	f.messages.On("Create", mock.Anything, mock.Anything).
		Return(models.Message{ID: 7, ConversationID: 10, SenderID: 1, Type: "text", Content: "hello"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/messages/2", bytes.NewBufferString(`{"content":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	f.audit.AssertCalled(t, "Publish", mock.Anything, "audit.logs", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.RequestID == "req-42" && env.UserID != nil && *env.UserID == "1" &&
			env.Payload.Level == "INFO" && env.Payload.Text == "Direct message sent"
	}), map[string]string{"x-request-id": "req-42"})
}

func TestMarkReadAuditsOnlyWhenSomethingChanged(t *testing.T) {
	f := newChatFixture(t)
	f.convs.On("FindByPair", mock.Anything, int64(1), int64(2)).Return(models.Conversation{ID: 10, User1ID: 1, User2ID: 2}, nil).Twice()
	f.messages.On("MarkReadFrom", mock.Anything, int64(10), int64(2)).Return([]int64{3}, nil).Once()
	f.messages.On("MarkReadFrom", mock.Anything, int64(10), int64(2)).Return([]int64{}, nil).Once()

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/messages/2/read", "").Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/messages/2/read", "").Code)

	assert.Equal(t, []string{"Messages marked read"}, f.auditTexts())
}

func TestStoreFailureEmitsErrorAudit(t *testing.T) {
	f := newChatFixture(t)
	f.convs.On("FindOrCreate", mock.Anything, int64(1), int64(2)).Return(nil, errors.New("connection refused")).Once()

	require.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/messages/2", `{"content":"hello"}`).Code)
	assert.Equal(t, []string{"store unavailable"}, f.auditTexts())
}
