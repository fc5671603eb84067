package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	grpcclient "chat-core/internal/grpc"
	"chat-core/internal/models"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	args := m.Called(ctx, msg)
	var created models.Message
	if val := args.Get(0); val != nil {
		created = val.(models.Message)
	}
	return created, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, messageID int) (models.Message, bool, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) MarkSeen(ctx context.Context, messageID int) (models.Message, bool, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) CancelScheduled(ctx context.Context, messageID int, senderID int) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) MarkCancelled(ctx context.Context, messageID int) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ClaimDue(ctx context.Context, now time.Time) (models.Message, error) {
	args := m.Called(ctx, now)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) InitReceipts(ctx context.Context, messageID int, memberIDs []int) error {
	args := m.Called(ctx, messageID, memberIDs)
	return args.Error(0)
}

func (m *MessageRepositoryMock) MarkReceiptDelivered(ctx context.Context, messageID int, memberID int) error {
	args := m.Called(ctx, messageID, memberID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) MarkReceiptSeen(ctx context.Context, messageID int, memberID int) error {
	args := m.Called(ctx, messageID, memberID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) GetReceipts(ctx context.Context, messageID int) ([]models.Receipt, error) {
	args := m.Called(ctx, messageID)
	var receipts []models.Receipt
	if val := args.Get(0); val != nil {
		receipts = val.([]models.Receipt)
	}
	return receipts, args.Error(1)
}

func (m *MessageRepositoryMock) AdvanceRollup(ctx context.Context, messageID int, status string) (models.Message, bool, error) {
	args := m.Called(ctx, messageID, status)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

type GroupRepositoryMock struct {
	mock.Mock
}

func (m *GroupRepositoryMock) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	args := m.Called(ctx, groupID)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *GroupRepositoryMock) IsMember(ctx context.Context, groupID int, userID int) (bool, error) {
	args := m.Called(ctx, groupID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *GroupRepositoryMock) ActiveMemberIDs(ctx context.Context, groupID int) ([]int, error) {
	args := m.Called(ctx, groupID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

type CallRepositoryMock struct {
	mock.Mock
}

func (m *CallRepositoryMock) CreateSession(ctx context.Context, session models.CallSession) (models.CallSession, error) {
	args := m.Called(ctx, session)
	var created models.CallSession
	if val := args.Get(0); val != nil {
		created = val.(models.CallSession)
	}
	return created, args.Error(1)
}

func (m *CallRepositoryMock) GetSession(ctx context.Context, callID string) (models.CallSession, error) {
	args := m.Called(ctx, callID)
	var session models.CallSession
	if val := args.Get(0); val != nil {
		session = val.(models.CallSession)
	}
	return session, args.Error(1)
}

func (m *CallRepositoryMock) Terminate(ctx context.Context, callID string, status string) (models.CallSession, bool, error) {
	args := m.Called(ctx, callID, status)
	var session models.CallSession
	if val := args.Get(0); val != nil {
		session = val.(models.CallSession)
	}
	return session, args.Bool(1), args.Error(2)
}

type NotificationRepositoryMock struct {
	mock.Mock
}

func (m *NotificationRepositoryMock) Insert(ctx context.Context, userID int, kind string, payload any) (models.Notification, error) {
	args := m.Called(ctx, userID, kind, payload)
	var notification models.Notification
	if val := args.Get(0); val != nil {
		notification = val.(models.Notification)
	}
	return notification, args.Error(1)
}

func (m *NotificationRepositoryMock) ListForUser(ctx context.Context, userID int, limit int) ([]models.Notification, error) {
	args := m.Called(ctx, userID, limit)
	var list []models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]models.Notification)
	}
	return list, args.Error(1)
}

type SocialGraphMock struct {
	mock.Mock
}

func (m *SocialGraphMock) IsBlocked(ctx context.Context, userID, otherID int) (bool, error) {
	args := m.Called(ctx, userID, otherID)
	return args.Bool(0), args.Error(1)
}

func (m *SocialGraphMock) AreFriends(ctx context.Context, userID, friendID int) (bool, error) {
	args := m.Called(ctx, userID, friendID)
	return args.Bool(0), args.Error(1)
}

type ProfileDirectoryMock struct {
	mock.Mock
}

func (m *ProfileDirectoryMock) GetProfile(ctx context.Context, userID int) (grpcclient.Profile, error) {
	args := m.Called(ctx, userID)
	var profile grpcclient.Profile
	if val := args.Get(0); val != nil {
		profile = val.(grpcclient.Profile)
	}
	return profile, args.Error(1)
}

func (m *ProfileDirectoryMock) SetLastSeen(ctx context.Context, userID int, lastSeen time.Time) error {
	args := m.Called(ctx, userID, lastSeen)
	return args.Error(0)
}

type TranslatorMock struct {
	mock.Mock
}

func (m *TranslatorMock) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	args := m.Called(ctx, text, sourceLang, targetLang)
	return args.String(0), args.Error(1)
}

type GateMock struct {
	mock.Mock
}

func (m *GateMock) MayNotify(ctx context.Context, actorID, targetID int) bool {
	args := m.Called(ctx, actorID, targetID)
	return args.Bool(0)
}

func (m *GateMock) MaySeeLastSeen(ctx context.Context, viewerID, ownerID int) bool {
	args := m.Called(ctx, viewerID, ownerID)
	return args.Bool(0)
}

// PublisherMock stands in for the broker-bound event publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NotifierMock records fan-out without real sockets.
type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) SendToUser(userID int, event models.Event) {
	m.Called(userID, event)
}

func (m *NotifierMock) IsOnline(userID int) bool {
	args := m.Called(userID)
	return args.Bool(0)
}
