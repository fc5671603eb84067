package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	grpcclient "chat-core/internal/grpc"
	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/rabbitmq"
	"chat-core/internal/repositories"
)

var (
	ErrInvalidRecipient = errors.New("exactly one of receiver_id or group_id must be set")
	ErrEmptyContent     = errors.New("content must not be empty")
	ErrNotAuthorized    = errors.New("actor may not act on this message")
	ErrGroupInactive    = errors.New("group is inactive")
	ErrBlocked          = errors.New("recipient is unavailable")
	ErrScheduleInPast   = errors.New("scheduled_for must be in the future")
)

// Notifier pushes events to a user's live connections. The hub implements it.
type Notifier interface {
	SendToUser(userID int, event models.Event)
	IsOnline(userID int) bool
}

// Gate decides per event whether a notification may reach its target.
type Gate interface {
	MayNotify(ctx context.Context, actorID, targetID int) bool
}

// SocialGraph answers the friendship check guarding direct sends.
type SocialGraph interface {
	AreFriends(ctx context.Context, userID, friendID int) (bool, error)
}

// ProfileDirectory resolves the receiver's preferred language.
type ProfileDirectory interface {
	GetProfile(ctx context.Context, userID int) (grpcclient.Profile, error)
}

// Translator is the machine-translation collaborator.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// SendRequest carries the client-supplied part of a message.
type SendRequest struct {
	ReceiverID      *int    `json:"receiver_id"`
	GroupID         *int    `json:"group_id"`
	Content         string  `json:"content"`
	ClientMessageID *string `json:"client_message_id"`
}

// StatusView is the sender-facing delivery state of one message.
type StatusView struct {
	Message  models.Message   `json:"message"`
	Receipts []models.Receipt `json:"receipts,omitempty"`
}

// Service implements message creation, scheduling and the delivery state
// machine. It is shared by the HTTP handlers, the websocket event loop and
// the scheduled dispatcher so all three move messages through the exact
// same path.
type Service struct {
	messages      repositories.MessageRepository
	groups        repositories.GroupRepository
	notifications repositories.NotificationRepository
	notifier      Notifier
	gate          Gate
	social        SocialGraph
	profiles      ProfileDirectory
	translator    Translator
	publisher     rabbitmq.Publisher
	logger        zerolog.Logger
}

func NewService(
	messages repositories.MessageRepository,
	groups repositories.GroupRepository,
	notifications repositories.NotificationRepository,
	notifier Notifier,
	gate Gate,
	social SocialGraph,
	profiles ProfileDirectory,
	translator Translator,
	publisher rabbitmq.Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		messages:      messages,
		groups:        groups,
		notifications: notifications,
		notifier:      notifier,
		gate:          gate,
		social:        social,
		profiles:      profiles,
		translator:    translator,
		publisher:     publisher,
		logger:        logger,
	}
}

// Send validates, persists and fans out an immediate message. Re-sending
// with the same client_message_id returns the earlier message without a
// second fan-out.
func (s *Service) Send(ctx context.Context, senderID int, req SendRequest) (models.Message, error) {
	msg, err := s.buildMessage(ctx, senderID, req)
	if err != nil {
		return models.Message{}, err
	}
	now := time.Now().UTC()
	msg.Status = models.StatusSent
	msg.SentAt = &now

	created, isNew, err := s.messages.Create(ctx, msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("creating message: %w", err)
	}
	if !isNew {
		return created, nil
	}

	if err := s.deliver(ctx, created); err != nil {
		s.logger.Warn().Err(err).Int("message_id", created.ID).Msg("fan-out incomplete")
	}
	return created, nil
}

// Schedule persists a message for later dispatch. Nothing is fanned out and
// no receipts exist until the dispatcher claims it.
func (s *Service) Schedule(ctx context.Context, senderID int, req SendRequest, scheduledFor time.Time) (models.Message, error) {
	if !scheduledFor.After(time.Now()) {
		return models.Message{}, ErrScheduleInPast
	}
	msg, err := s.buildMessage(ctx, senderID, req)
	if err != nil {
		return models.Message{}, err
	}
	scheduledFor = scheduledFor.UTC()
	msg.Status = models.StatusScheduled
	msg.ScheduledFor = &scheduledFor

	created, _, err := s.messages.Create(ctx, msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("scheduling message: %w", err)
	}
	return created, nil
}

// CancelScheduled cancels a scheduled message on behalf of its sender.
// Losing the race against the dispatcher surfaces as ErrAlreadyDispatched.
func (s *Service) CancelScheduled(ctx context.Context, senderID, messageID int) error {
	return s.messages.CancelScheduled(ctx, messageID, senderID)
}

// DispatchClaimed delivers a message the dispatcher just claimed. The
// blocking relation is re-checked here because it may have changed since
// the message was scheduled; a blocked pair yields ErrBlocked and the
// dispatcher cancels the message.
func (s *Service) DispatchClaimed(ctx context.Context, msg models.Message) error {
	if msg.ReceiverID != nil && s.gate != nil && !s.gate.MayNotify(ctx, msg.SenderID, *msg.ReceiverID) {
		return ErrBlocked
	}
	return s.deliver(ctx, msg)
}

// RecordDelivered applies a delivered acknowledgment from actorID. Only the
// receiver (or, for groups, an active non-sender member) may acknowledge;
// re-acknowledging is a no-op. The sender is notified when the top-level
// status actually changed.
func (s *Service) RecordDelivered(ctx context.Context, actorID, messageID int) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Status == models.StatusScheduled || msg.Status == models.StatusCancelled {
		return models.Message{}, repositories.ErrMessageNotFound
	}

	if msg.IsGroup() {
		return s.recordGroupAck(ctx, actorID, msg, false)
	}

	if msg.ReceiverID == nil || actorID != *msg.ReceiverID {
		return models.Message{}, ErrNotAuthorized
	}
	if !CanAdvance(msg.Status, models.StatusDelivered) {
		// Already delivered or seen: re-acknowledging changes nothing.
		return msg, nil
	}
	updated, changed, err := s.messages.MarkDelivered(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if changed {
		s.notifyStatus(ctx, actorID, updated)
	}
	return updated, nil
}

// RecordSeen applies seen acknowledgments for a batch of messages. A bad
// entry is skipped, not the whole batch; the successfully advanced messages
// are returned.
func (s *Service) RecordSeen(ctx context.Context, actorID int, messageIDs []int) ([]models.Message, error) {
	updated := make([]models.Message, 0, len(messageIDs))
	for _, messageID := range lo.Uniq(messageIDs) {
		msg, err := s.recordSeenOne(ctx, actorID, messageID)
		if err != nil {
			s.logger.Debug().Err(err).Int("message_id", messageID).Int("actor_id", actorID).Msg("seen ack rejected")
			continue
		}
		updated = append(updated, msg)
	}
	return updated, nil
}

func (s *Service) recordSeenOne(ctx context.Context, actorID, messageID int) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Status == models.StatusScheduled || msg.Status == models.StatusCancelled {
		return models.Message{}, repositories.ErrMessageNotFound
	}

	if msg.IsGroup() {
		return s.recordGroupAck(ctx, actorID, msg, true)
	}

	if msg.ReceiverID == nil || actorID != *msg.ReceiverID {
		return models.Message{}, ErrNotAuthorized
	}
	if !CanAdvance(msg.Status, models.StatusSeen) {
		return msg, nil
	}
	updated, changed, err := s.messages.MarkSeen(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if changed {
		s.notifyStatus(ctx, actorID, updated)
	}
	return updated, nil
}

// recordGroupAck stamps the member's receipt, then recomputes the roll-up
// against a fresh membership snapshot. Membership is re-read on every ack
// so a member removed mid-flight stops holding the roll-up back.
func (s *Service) recordGroupAck(ctx context.Context, actorID int, msg models.Message, seen bool) (models.Message, error) {
	if actorID == msg.SenderID {
		return models.Message{}, ErrNotAuthorized
	}
	member, err := s.groups.IsMember(ctx, *msg.GroupID, actorID)
	if err != nil {
		return models.Message{}, fmt.Errorf("checking membership: %w", err)
	}
	if !member {
		return models.Message{}, ErrNotAuthorized
	}

	if seen {
		err = s.messages.MarkReceiptSeen(ctx, msg.ID, actorID)
	} else {
		err = s.messages.MarkReceiptDelivered(ctx, msg.ID, actorID)
	}
	if err != nil {
		return models.Message{}, err
	}

	memberIDs, err := s.groups.ActiveMemberIDs(ctx, *msg.GroupID)
	if err != nil {
		return models.Message{}, fmt.Errorf("reading membership: %w", err)
	}
	receipts, err := s.messages.GetReceipts(ctx, msg.ID)
	if err != nil {
		return models.Message{}, err
	}

	rollup := Rollup(memberIDs, msg.SenderID, receipts)
	updated, changed, err := s.messages.AdvanceRollup(ctx, msg.ID, rollup)
	if err != nil {
		return models.Message{}, err
	}
	if changed {
		s.notifyStatus(ctx, actorID, updated)
	}
	return updated, nil
}

// MessageStatus returns the delivery state visible to actorID: the sender,
// the receiver or an active group member.
func (s *Service) MessageStatus(ctx context.Context, actorID, messageID int) (StatusView, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return StatusView{}, err
	}

	allowed := actorID == msg.SenderID
	if !allowed && msg.ReceiverID != nil {
		allowed = actorID == *msg.ReceiverID
	}
	if !allowed && msg.IsGroup() {
		allowed, err = s.groups.IsMember(ctx, *msg.GroupID, actorID)
		if err != nil {
			return StatusView{}, fmt.Errorf("checking membership: %w", err)
		}
	}
	if !allowed {
		return StatusView{}, ErrNotAuthorized
	}

	view := StatusView{Message: msg}
	if msg.IsGroup() {
		view.Receipts, err = s.messages.GetReceipts(ctx, messageID)
		if err != nil {
			return StatusView{}, err
		}
	}
	return view, nil
}

// buildMessage validates the request, checks the sender's standing against
// the target and freezes language detection and translation into the row.
func (s *Service) buildMessage(ctx context.Context, senderID int, req SendRequest) (models.Message, error) {
	if (req.ReceiverID == nil) == (req.GroupID == nil) {
		return models.Message{}, ErrInvalidRecipient
	}
	if strings.TrimSpace(req.Content) == "" {
		return models.Message{}, ErrEmptyContent
	}

	msg := models.Message{
		SenderID:        senderID,
		ReceiverID:      req.ReceiverID,
		GroupID:         req.GroupID,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	}

	if req.ReceiverID != nil {
		friends, err := s.social.AreFriends(ctx, senderID, *req.ReceiverID)
		if err != nil {
			return models.Message{}, fmt.Errorf("checking friendship: %w", err)
		}
		if !friends {
			return models.Message{}, ErrNotAuthorized
		}
		if s.gate != nil && !s.gate.MayNotify(ctx, senderID, *req.ReceiverID) {
			return models.Message{}, ErrBlocked
		}
	} else {
		group, err := s.groups.GetGroup(ctx, *req.GroupID)
		if err != nil {
			return models.Message{}, err
		}
		if !group.IsActive {
			return models.Message{}, ErrGroupInactive
		}
		member, err := s.groups.IsMember(ctx, *req.GroupID, senderID)
		if err != nil {
			return models.Message{}, fmt.Errorf("checking membership: %w", err)
		}
		if !member {
			return models.Message{}, ErrNotAuthorized
		}
	}

	s.translate(ctx, &msg)
	return msg, nil
}

// translate detects the content language and, for direct messages, stores a
// translation into the receiver's preferred language. Translation is best
// effort: any failure leaves the message untranslated.
func (s *Service) translate(ctx context.Context, msg *models.Message) {
	info := whatlanggo.Detect(msg.Content)
	detected := info.Lang.Iso6391()
	if detected != "" {
		msg.DetectedLang = &detected
	}
	if msg.ReceiverID == nil || s.profiles == nil || s.translator == nil {
		return
	}

	profile, err := s.profiles.GetProfile(ctx, *msg.ReceiverID)
	if err != nil {
		s.logger.Warn().Err(err).Int("receiver_id", *msg.ReceiverID).Msg("profile lookup failed, skipping translation")
		return
	}
	if profile.Language == "" || profile.Language == detected {
		return
	}

	translated, err := s.translator.Translate(ctx, msg.Content, detected, profile.Language)
	if err != nil {
		s.logger.Warn().Err(err).Int("receiver_id", *msg.ReceiverID).Msg("translation failed")
		return
	}
	msg.TranslatedContent = &translated
}

// deliver fans a sent message out to its recipients. Group receipts are
// initialised from a membership snapshot taken now, the gate is evaluated
// per recipient, and an offline direct receiver gets a durable notification
// record instead.
func (s *Service) deliver(ctx context.Context, msg models.Message) error {
	event := models.Event{Type: models.EventMessage, Message: &msg}

	if msg.ReceiverID != nil {
		receiverID := *msg.ReceiverID
		if s.gate == nil || s.gate.MayNotify(ctx, msg.SenderID, receiverID) {
			if s.notifier.IsOnline(receiverID) {
				s.notifier.SendToUser(receiverID, event)
			} else if s.notifications != nil {
				payload := map[string]int{"message_id": msg.ID, "sender_id": msg.SenderID}
				if _, err := s.notifications.Insert(ctx, receiverID, models.NotificationNewMessage, payload); err != nil {
					s.logger.Warn().Err(err).Int("message_id", msg.ID).Msg("notification record failed")
				}
			}
		}
		s.notifier.SendToUser(msg.SenderID, event)
		s.publish(ctx, "message.new", msg)
		return nil
	}

	memberIDs, err := s.groups.ActiveMemberIDs(ctx, *msg.GroupID)
	if err != nil {
		return fmt.Errorf("reading membership: %w", err)
	}
	if err := s.messages.InitReceipts(ctx, msg.ID, lo.Without(memberIDs, msg.SenderID)); err != nil {
		return fmt.Errorf("initialising receipts: %w", err)
	}
	for _, memberID := range memberIDs {
		if memberID == msg.SenderID {
			continue
		}
		if s.gate != nil && !s.gate.MayNotify(ctx, msg.SenderID, memberID) {
			continue
		}
		s.notifier.SendToUser(memberID, event)
	}
	s.notifier.SendToUser(msg.SenderID, event)
	s.publish(ctx, "message.new", msg)
	return nil
}

// notifyStatus tells the sender its message advanced, gated on the relation
// between the acknowledging actor and the sender.
func (s *Service) notifyStatus(ctx context.Context, actorID int, msg models.Message) {
	if s.gate != nil && !s.gate.MayNotify(ctx, actorID, msg.SenderID) {
		return
	}
	s.notifier.SendToUser(msg.SenderID, models.Event{
		Type:      models.EventStatus,
		MessageID: msg.ID,
		Status:    msg.Status,
	})
	s.publish(ctx, "message."+msg.Status, msg)
}

func (s *Service) publish(ctx context.Context, routingKey string, msg models.Message) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, routingKey, msg); err != nil {
		observability.IncAMQPPublishError()
		s.logger.Warn().Err(err).Str("routing_key", routingKey).Msg("event publish failed")
	}
}
