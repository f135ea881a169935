package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"dm-service/internal/auth"
	"dm-service/internal/models"
	"dm-service/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) FindOrCreate(ctx context.Context, userA, userB int64) (models.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) FindByPair(ctx context.Context, userA, userB int64) (models.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListContacts(ctx context.Context, userID int64) ([]models.ContactSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ContactSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ContactSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) ListPeerIDs(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, messageID int64) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) MarkReadFrom(ctx context.Context, conversationID, senderID int64) ([]int64, error) {
	args := m.Called(ctx, conversationID, senderID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *MessageRepositoryMock) ListForConversation(ctx context.Context, conversationID int64) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetByID(ctx context.Context, userID int64) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) UpdateLastSeen(ctx context.Context, userID int64, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

type CallLogRepositoryMock struct {
	mock.Mock
}

func (m *CallLogRepositoryMock) Create(ctx context.Context, callerID, receiverID int64, status string) (models.CallLog, error) {
	args := m.Called(ctx, callerID, receiverID, status)
	var call models.CallLog
	if val := args.Get(0); val != nil {
		call = val.(models.CallLog)
	}
	return call, args.Error(1)
}

func (m *CallLogRepositoryMock) Update(ctx context.Context, callID, userID int64, status string, endTime *time.Time) (models.CallLog, error) {
	args := m.Called(ctx, callID, userID, status, endTime)
	var call models.CallLog
	if val := args.Get(0); val != nil {
		call = val.(models.CallLog)
	}
	return call, args.Error(1)
}

func (m *CallLogRepositoryMock) ListForUser(ctx context.Context, userID int64) ([]models.CallLog, error) {
	args := m.Called(ctx, userID)
	var calls []models.CallLog
	if val := args.Get(0); val != nil {
		calls = val.([]models.CallLog)
	}
	return calls, args.Error(1)
}

type TokenValidatorMock struct {
	mock.Mock
}

func (m *TokenValidatorMock) ValidateToken(ctx context.Context, token string) (int64, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(int64), args.Error(1)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ repositories.CallLogRepository = (*CallLogRepositoryMock)(nil)
var _ auth.TokenValidator = (*TokenValidatorMock)(nil)
