package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/rabbitmq"
	"chat-core/internal/repositories"
)

var ErrNotAllowed = errors.New("call not allowed")

// ErrNotAuthorized is returned when someone other than the callee answers.
var ErrNotAuthorized = errors.New("actor is not the callee")

// Notifier relays signaling events to live connections.
type Notifier interface {
	SendToUser(userID int, event models.Event)
	IsOnline(userID int) bool
}

// Gate is re-evaluated on every signaling event.
type Gate interface {
	MayNotify(ctx context.Context, actorID, targetID int) bool
}

// Service drives call sessions: ringing ends in exactly one of answered,
// rejected or missed. The winner is decided by a conditional update in the
// store, so a timer firing concurrently with an explicit answer can never
// produce two terminal states.
type Service struct {
	calls         repositories.CallRepository
	notifications repositories.NotificationRepository
	notifier      Notifier
	gate          Gate
	publisher     rabbitmq.Publisher
	ringTimeout   time.Duration
	logger        zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewService(
	calls repositories.CallRepository,
	notifications repositories.NotificationRepository,
	notifier Notifier,
	gate Gate,
	publisher rabbitmq.Publisher,
	ringTimeout time.Duration,
	logger zerolog.Logger,
) *Service {
	return &Service{
		calls:         calls,
		notifications: notifications,
		notifier:      notifier,
		gate:          gate,
		publisher:     publisher,
		ringTimeout:   ringTimeout,
		logger:        logger,
		timers:        make(map[string]*time.Timer),
	}
}

// Invite starts a call. An offline callee produces an immediately rejected
// session, no ringing and no timer. Otherwise the session rings, the callee
// is signaled and the missed-call timer is armed.
func (s *Service) Invite(ctx context.Context, callerID, receiverID int) (models.CallSession, error) {
	if callerID == receiverID {
		return models.CallSession{}, ErrNotAllowed
	}
	if s.gate != nil && !s.gate.MayNotify(ctx, callerID, receiverID) {
		return models.CallSession{}, ErrNotAllowed
	}

	session := models.CallSession{
		ID:         uuid.NewString(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     models.CallRinging,
		StartedAt:  time.Now().UTC(),
	}

	if !s.notifier.IsOnline(receiverID) {
		now := time.Now().UTC()
		session.Status = models.CallRejected
		session.EndedAt = &now
		created, err := s.calls.CreateSession(ctx, session)
		if err != nil {
			return models.CallSession{}, err
		}
		s.notifier.SendToUser(callerID, models.Event{
			Type:       models.EventCallRejected,
			CallID:     created.ID,
			CallerID:   callerID,
			ReceiverID: receiverID,
			Reason:     "offline",
		})
		observability.IncCall("rejected")
		return created, nil
	}

	created, err := s.calls.CreateSession(ctx, session)
	if err != nil {
		return models.CallSession{}, err
	}

	s.notifier.SendToUser(receiverID, models.Event{
		Type:       models.EventCallInvite,
		CallID:     created.ID,
		CallerID:   callerID,
		ReceiverID: receiverID,
	})
	s.armTimer(created.ID)
	s.publish(ctx, "call.invite", created)
	return created, nil
}

// Accept answers a ringing call. Only the callee may accept; an accept
// arriving after the timer already fired is ignored.
func (s *Service) Accept(ctx context.Context, actorID int, callID string) (models.CallSession, error) {
	return s.terminate(ctx, actorID, callID, models.CallAnswered, models.EventCallAnswered)
}

// Reject declines a ringing call under the same rules as Accept.
func (s *Service) Reject(ctx context.Context, actorID int, callID string) (models.CallSession, error) {
	return s.terminate(ctx, actorID, callID, models.CallRejected, models.EventCallRejected)
}

func (s *Service) terminate(ctx context.Context, actorID int, callID, status, eventType string) (models.CallSession, error) {
	session, err := s.calls.GetSession(ctx, callID)
	if err != nil {
		return models.CallSession{}, err
	}
	if actorID != session.ReceiverID {
		return models.CallSession{}, ErrNotAuthorized
	}

	updated, changed, err := s.calls.Terminate(ctx, callID, status)
	if err != nil {
		return models.CallSession{}, err
	}
	s.cancelTimer(callID)
	if !changed {
		// The timer (or the other action) won; this one is a no-op.
		return updated, nil
	}

	event := models.Event{
		Type:       eventType,
		CallID:     updated.ID,
		CallerID:   updated.CallerID,
		ReceiverID: updated.ReceiverID,
	}
	if s.gate == nil || s.gate.MayNotify(ctx, actorID, updated.CallerID) {
		s.notifier.SendToUser(updated.CallerID, event)
	}
	s.notifier.SendToUser(updated.ReceiverID, event)
	s.publish(ctx, "call."+status, updated)
	observability.IncCall(status)
	return updated, nil
}

// armTimer schedules the missed-call transition. Re-arming for the same
// call id replaces the previous timer.
func (s *Service) armTimer(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[callID]; ok {
		old.Stop()
	}
	s.timers[callID] = time.AfterFunc(s.ringTimeout, func() {
		s.timeout(callID)
	})
}

func (s *Service) cancelTimer(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[callID]; ok {
		timer.Stop()
		delete(s.timers, callID)
	}
}

// timeout marks the call missed if it is still ringing. Losing the race to
// an explicit accept or reject is silent.
func (s *Service) timeout(callID string) {
	s.mu.Lock()
	delete(s.timers, callID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updated, changed, err := s.calls.Terminate(ctx, callID, models.CallMissed)
	if err != nil {
		s.logger.Error().Err(err).Str("call_id", callID).Msg("missed-call transition failed")
		return
	}
	if !changed {
		return
	}

	if s.notifications != nil {
		payload := map[string]any{"call_id": updated.ID, "caller_id": updated.CallerID}
		if _, err := s.notifications.Insert(ctx, updated.ReceiverID, models.NotificationMissedCall, payload); err != nil {
			s.logger.Warn().Err(err).Str("call_id", callID).Msg("missed-call record failed")
		}
	}

	event := models.Event{
		Type:       models.EventCallMissed,
		CallID:     updated.ID,
		CallerID:   updated.CallerID,
		ReceiverID: updated.ReceiverID,
	}
	s.notifier.SendToUser(updated.CallerID, event)
	if s.gate == nil || s.gate.MayNotify(ctx, updated.CallerID, updated.ReceiverID) {
		s.notifier.SendToUser(updated.ReceiverID, event)
	}
	s.publish(ctx, "call.missed", updated)
	observability.IncCall("missed")
}

func (s *Service) publish(ctx context.Context, routingKey string, session models.CallSession) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, routingKey, session); err != nil {
		observability.IncAMQPPublishError()
		s.logger.Warn().Err(err).Str("routing_key", routingKey).Msg("event publish failed")
	}
}
