package calls

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-core/internal/mocks"
	"chat-core/internal/models"
)

type callFixture struct {
	calls         *mocks.CallRepositoryMock
	notifications *mocks.NotificationRepositoryMock
	notifier      *mocks.NotifierMock
	gate          *mocks.GateMock
	publisher     *mocks.PublisherMock
	service       *Service
}

func newCallFixture(ringTimeout time.Duration) *callFixture {
	f := &callFixture{
		calls:         new(mocks.CallRepositoryMock),
		notifications: new(mocks.NotificationRepositoryMock),
		notifier:      new(mocks.NotifierMock),
		gate:          new(mocks.GateMock),
		publisher:     new(mocks.PublisherMock),
	}
	f.service = NewService(f.calls, f.notifications, f.notifier, f.gate, f.publisher, ringTimeout, zerolog.Nop())
	return f
}

func eventOfType(eventType string) interface{} {
	return mock.MatchedBy(func(e models.Event) bool { return e.Type == eventType })
}

func ringingSession(id string) models.CallSession {
	return models.CallSession{ID: id, CallerID: 1, ReceiverID: 2, Status: models.CallRinging, StartedAt: time.Now().UTC()}
}

func TestInviteBlockedPairRejected(t *testing.T) {
	f := newCallFixture(time.Second)
	f.gate.On("MayNotify", mock.Anything, 1, 2).Return(false).Once()

	_, err := f.service.Invite(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrNotAllowed)
	f.calls.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}

func TestInviteSelfRejected(t *testing.T) {
	f := newCallFixture(time.Second)

	_, err := f.service.Invite(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestInviteOfflineCalleeImmediatelyRejected(t *testing.T) {
	f := newCallFixture(time.Second)
	f.gate.On("MayNotify", mock.Anything, 1, 2).Return(true).Once()
	f.notifier.On("IsOnline", 2).Return(false).Once()
	f.calls.On("CreateSession", mock.Anything, mock.MatchedBy(func(s models.CallSession) bool {
		return s.Status == models.CallRejected && !s.StartedAt.IsZero() && s.EndedAt != nil
	})).Return(models.CallSession{ID: "c1", CallerID: 1, ReceiverID: 2, Status: models.CallRejected}, nil).Once()
	f.notifier.On("SendToUser", 1, mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventCallRejected && e.Reason == "offline"
	})).Return().Once()

	session, err := f.service.Invite(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.CallRejected, session.Status)

	// No ringing phase: the callee is never signaled and no timer runs.
	f.notifier.AssertNotCalled(t, "SendToUser", 2, mock.Anything)
	f.calls.AssertNotCalled(t, "Terminate", mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptCancelsRingTimer(t *testing.T) {
	f := newCallFixture(40 * time.Millisecond)
	session := ringingSession("c1")
	answered := session
	answered.Status = models.CallAnswered

	f.gate.On("MayNotify", mock.Anything, 1, 2).Return(true).Once()
	f.notifier.On("IsOnline", 2).Return(true).Once()
	f.calls.On("CreateSession", mock.Anything, mock.Anything).Return(session, nil).Once()
	f.notifier.On("SendToUser", 2, eventOfType(models.EventCallInvite)).Return().Once()
	f.publisher.On("Publish", mock.Anything, "call.invite", mock.Anything).Return(nil).Once()

	created, err := f.service.Invite(context.Background(), 1, 2)
	require.NoError(t, err)

	f.calls.On("GetSession", mock.Anything, "c1").Return(session, nil).Once()
	f.calls.On("Terminate", mock.Anything, "c1", models.CallAnswered).Return(answered, true, nil).Once()
	f.gate.On("MayNotify", mock.Anything, 2, 1).Return(true).Once()
	f.notifier.On("SendToUser", 1, eventOfType(models.EventCallAnswered)).Return().Once()
	f.notifier.On("SendToUser", 2, eventOfType(models.EventCallAnswered)).Return().Once()
	f.publisher.On("Publish", mock.Anything, "call.answered", mock.Anything).Return(nil).Once()

	got, err := f.service.Accept(context.Background(), 2, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallAnswered, got.Status)

	// The cancelled timer must not fire a missed transition.
	time.Sleep(100 * time.Millisecond)
	f.calls.AssertNotCalled(t, "Terminate", mock.Anything, "c1", models.CallMissed)
}

func TestRingTimeoutMarksMissed(t *testing.T) {
	f := newCallFixture(20 * time.Millisecond)
	session := ringingSession("c1")
	missed := session
	missed.Status = models.CallMissed

	f.gate.On("MayNotify", mock.Anything, 1, 2).Return(true)
	f.notifier.On("IsOnline", 2).Return(true).Once()
	f.calls.On("CreateSession", mock.Anything, mock.Anything).Return(session, nil).Once()
	f.notifier.On("SendToUser", 2, eventOfType(models.EventCallInvite)).Return().Once()
	f.publisher.On("Publish", mock.Anything, "call.invite", mock.Anything).Return(nil).Once()

	f.calls.On("Terminate", mock.Anything, "c1", models.CallMissed).Return(missed, true, nil).Once()
	f.notifications.On("Insert", mock.Anything, 2, models.NotificationMissedCall, mock.Anything).Return(models.Notification{ID: 1}, nil).Once()
	f.notifier.On("SendToUser", 1, eventOfType(models.EventCallMissed)).Return().Once()
	f.notifier.On("SendToUser", 2, eventOfType(models.EventCallMissed)).Return().Once()
	f.publisher.On("Publish", mock.Anything, "call.missed", mock.Anything).Return(nil).Once()

	_, err := f.service.Invite(context.Background(), 1, 2)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	f.calls.AssertExpectations(t)
	f.notifications.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestAcceptAfterTimeoutIgnored(t *testing.T) {
	f := newCallFixture(time.Second)
	session := ringingSession("c1")
	missed := session
	missed.Status = models.CallMissed

	// The callee read a stale ringing session, but the store already holds
	// the missed terminal state.
	f.calls.On("GetSession", mock.Anything, "c1").Return(session, nil).Once()
	f.calls.On("Terminate", mock.Anything, "c1", models.CallAnswered).Return(missed, false, nil).Once()

	got, err := f.service.Accept(context.Background(), 2, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CallMissed, got.Status)
	f.notifier.AssertNotCalled(t, "SendToUser", mock.Anything, mock.Anything)
}

func TestAcceptByNonCalleeRejected(t *testing.T) {
	f := newCallFixture(time.Second)
	f.calls.On("GetSession", mock.Anything, "c1").Return(ringingSession("c1"), nil).Once()

	_, err := f.service.Accept(context.Background(), 1, "c1")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	f.calls.AssertNotCalled(t, "Terminate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRejectNotifiesBothParties(t *testing.T) {
	f := newCallFixture(time.Second)
	session := ringingSession("c1")
	rejected := session
	rejected.Status = models.CallRejected

	f.calls.On("GetSession", mock.Anything, "c1").Return(session, nil).Once()
	f.calls.On("Terminate", mock.Anything, "c1", models.CallRejected).Return(rejected, true, nil).Once()
	f.gate.On("MayNotify", mock.Anything, 2, 1).Return(true).Once()
	f.notifier.On("SendToUser", 1, eventOfType(models.EventCallRejected)).Return().Once()
	f.notifier.On("SendToUser", 2, eventOfType(models.EventCallRejected)).Return().Once()
	f.publisher.On("Publish", mock.Anything, "call.rejected", mock.Anything).Return(nil).Once()

	got, err := f.service.Reject(context.Background(), 2, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CallRejected, got.Status)
	f.notifier.AssertExpectations(t)
}
