package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-core/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	// ErrAlreadyDispatched is returned when a cancellation loses the race
	// against the dispatcher's claim.
	ErrAlreadyDispatched = errors.New("message already dispatched")
	// ErrNoneDue means no scheduled message is claimable right now.
	ErrNoneDue = errors.New("no scheduled message due")
)

const messageColumns = `id, sender_id, receiver_id, group_id, content, translated_content, detected_lang,
    client_message_id, status, scheduled_for, sent_at, delivered_at, seen_at, created_at`

// MessageRepository owns the message state machine's durable side. Every
// mutation is a guarded conditional update so that concurrent handlers and
// dispatcher instances cannot move a message backwards or claim it twice.
type MessageRepository interface {
	Create(ctx context.Context, msg models.Message) (models.Message, bool, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	MarkDelivered(ctx context.Context, messageID int) (models.Message, bool, error)
	MarkSeen(ctx context.Context, messageID int) (models.Message, bool, error)
	CancelScheduled(ctx context.Context, messageID int, senderID int) error
	MarkCancelled(ctx context.Context, messageID int) error
	ClaimDue(ctx context.Context, now time.Time) (models.Message, error)

	InitReceipts(ctx context.Context, messageID int, memberIDs []int) error
	MarkReceiptDelivered(ctx context.Context, messageID int, memberID int) error
	MarkReceiptSeen(ctx context.Context, messageID int, memberID int) error
	GetReceipts(ctx context.Context, messageID int) ([]models.Receipt, error)
	AdvanceRollup(ctx context.Context, messageID int, status string) (models.Message, bool, error)
}

// MessageRepo is the sqlx-backed implementation.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create inserts the message. When the sender already used the same
// client_message_id the existing row is returned instead and the second
// return value is false: this is the retry-safety contract for flaky clients.
func (r *MessageRepo) Create(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	var created models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages
        (sender_id, receiver_id, group_id, content, translated_content, detected_lang, client_message_id, status, scheduled_for, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (sender_id, client_message_id) WHERE client_message_id IS NOT NULL DO NOTHING
        RETURNING `+messageColumns,
		msg.SenderID, msg.ReceiverID, msg.GroupID, msg.Content, msg.TranslatedContent, msg.DetectedLang,
		msg.ClientMessageID, msg.Status, msg.ScheduledFor, msg.SentAt).StructScan(&created)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || msg.ClientMessageID == nil {
		return models.Message{}, false, err
	}

	// Conflict: hand back the message the earlier attempt created.
	var existing models.Message
	err = r.db.GetContext(ctx, &existing, `SELECT `+messageColumns+` FROM messages
        WHERE sender_id=$1 AND client_message_id=$2`, msg.SenderID, *msg.ClientMessageID)
	if err != nil {
		return models.Message{}, false, err
	}
	return existing, false, nil
}

// GetMessage fetches a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkDelivered advances sent -> delivered. A message already past "sent" is
// returned unchanged with false: re-applying the transition is a no-op.
func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID int) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET status=$2, delivered_at=NOW()
        WHERE id=$1 AND status=$3
        RETURNING `+messageColumns, messageID, models.StatusDelivered, models.StatusSent).StructScan(&msg)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, err
	}
	msg, err = r.GetMessage(ctx, messageID)
	return msg, false, err
}

// MarkSeen advances any pre-terminal status to seen; "seen" implies
// "delivered", so skipping the delivered step is allowed. seen_at and
// delivered_at are set at most once.
func (r *MessageRepo) MarkSeen(ctx context.Context, messageID int) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET status=$2, seen_at=NOW(), delivered_at=COALESCE(delivered_at, NOW())
        WHERE id=$1 AND status IN ($3, $4)
        RETURNING `+messageColumns, messageID, models.StatusSeen, models.StatusSent, models.StatusDelivered).StructScan(&msg)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, err
	}
	msg, err = r.GetMessage(ctx, messageID)
	return msg, false, err
}

// CancelScheduled cancels a scheduled message on behalf of its sender. Once
// the dispatcher has claimed the row the update matches nothing and
// ErrAlreadyDispatched is returned.
func (r *MessageRepo) CancelScheduled(ctx context.Context, messageID int, senderID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status=$3
        WHERE id=$1 AND sender_id=$2 AND status=$4`,
		messageID, senderID, models.StatusCancelled, models.StatusScheduled)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		if _, err := r.GetMessage(ctx, messageID); errors.Is(err, ErrMessageNotFound) {
			return ErrMessageNotFound
		}
		return ErrAlreadyDispatched
	}
	return nil
}

// MarkCancelled force-cancels a claimed message whose dispatch failed. The
// terminal cancelled state is what bounds retry amplification. A freshly
// claimed row is always sent; if the receiver acked in the meantime the
// message already reached them and must stay on the forward path.
func (r *MessageRepo) MarkCancelled(ctx context.Context, messageID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET status=$2 WHERE id=$1 AND status=$3`,
		messageID, models.StatusCancelled, models.StatusSent)
	return err
}

// ClaimDue atomically selects and flips one due scheduled message to sent.
// FOR UPDATE SKIP LOCKED plus the status condition guarantee at-most-once
// claims even with several dispatcher instances racing.
func (r *MessageRepo) ClaimDue(ctx context.Context, now time.Time) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET status=$1, sent_at=$2
        WHERE id = (
            SELECT id FROM messages
            WHERE status=$3 AND scheduled_for <= $2
            ORDER BY scheduled_for
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING `+messageColumns, models.StatusSent, now, models.StatusScheduled).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrNoneDue
	}
	return msg, err
}

// InitReceipts creates one empty receipt per group member.
func (r *MessageRepo) InitReceipts(ctx context.Context, messageID int, memberIDs []int) error {
	for _, memberID := range memberIDs {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO message_receipts (message_id, member_id)
            VALUES ($1, $2) ON CONFLICT (message_id, member_id) DO NOTHING`, messageID, memberID); err != nil {
			return err
		}
	}
	return nil
}

// MarkReceiptDelivered stamps the member's delivered_at once.
func (r *MessageRepo) MarkReceiptDelivered(ctx context.Context, messageID int, memberID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_receipts (message_id, member_id, delivered_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (message_id, member_id) DO UPDATE
        SET delivered_at = COALESCE(message_receipts.delivered_at, EXCLUDED.delivered_at)`,
		messageID, memberID)
	return err
}

// MarkReceiptSeen stamps seen_at (and delivered_at, if still unset) once.
func (r *MessageRepo) MarkReceiptSeen(ctx context.Context, messageID int, memberID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_receipts (message_id, member_id, delivered_at, seen_at)
        VALUES ($1, $2, NOW(), NOW())
        ON CONFLICT (message_id, member_id) DO UPDATE
        SET delivered_at = COALESCE(message_receipts.delivered_at, EXCLUDED.delivered_at),
            seen_at = COALESCE(message_receipts.seen_at, EXCLUDED.seen_at)`,
		messageID, memberID)
	return err
}

// GetReceipts returns all receipts recorded for the message.
func (r *MessageRepo) GetReceipts(ctx context.Context, messageID int) ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := r.db.SelectContext(ctx, &receipts, `SELECT message_id, member_id, delivered_at, seen_at
        FROM message_receipts WHERE message_id=$1`, messageID)
	return receipts, err
}

// AdvanceRollup moves the top-level group status forward to the recomputed
// roll-up value. The rank comparison keeps the transition monotonic under
// interleaved acknowledgments.
func (r *MessageRepo) AdvanceRollup(ctx context.Context, messageID int, status string) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET status=$2,
            delivered_at = CASE WHEN $2 IN ('delivered','seen') THEN COALESCE(delivered_at, NOW()) ELSE delivered_at END,
            seen_at = CASE WHEN $2 = 'seen' THEN COALESCE(seen_at, NOW()) ELSE seen_at END
        WHERE id=$1
          AND CASE status WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 WHEN 'seen' THEN 2 ELSE 3 END
            < CASE $2 WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 WHEN 'seen' THEN 2 ELSE -1 END
        RETURNING `+messageColumns, messageID, status).StructScan(&msg)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, err
	}
	msg, err = r.GetMessage(ctx, messageID)
	return msg, false, err
}
