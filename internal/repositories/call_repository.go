package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-core/internal/models"
)

var ErrCallNotFound = errors.New("call session not found")

// CallRepository persists call sessions. The terminal transition is a
// compare-and-set on status='ringing' so the timer and the explicit
// accept/reject handlers can race safely: only the first one wins.
type CallRepository interface {
	CreateSession(ctx context.Context, session models.CallSession) (models.CallSession, error)
	GetSession(ctx context.Context, callID string) (models.CallSession, error)
	Terminate(ctx context.Context, callID string, status string) (models.CallSession, bool, error)
}

// CallRepo is a sqlx implementation of CallRepository.
type CallRepo struct {
	db *sqlx.DB
}

// NewCallRepo constructs a CallRepo.
func NewCallRepo(db *sqlx.DB) *CallRepo {
	return &CallRepo{db: db}
}

// CreateSession inserts a session in its initial status. The caller stamps
// started_at so it matches the moment the invite was relayed.
func (r *CallRepo) CreateSession(ctx context.Context, session models.CallSession) (models.CallSession, error) {
	var created models.CallSession
	err := r.db.QueryRowxContext(ctx, `INSERT INTO call_sessions (id, caller_id, receiver_id, status, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, caller_id, receiver_id, status, started_at, ended_at`,
		session.ID, session.CallerID, session.ReceiverID, session.Status, session.StartedAt, session.EndedAt).StructScan(&created)
	return created, err
}

// GetSession fetches a session by id.
func (r *CallRepo) GetSession(ctx context.Context, callID string) (models.CallSession, error) {
	var session models.CallSession
	err := r.db.GetContext(ctx, &session, `SELECT id, caller_id, receiver_id, status, started_at, ended_at
        FROM call_sessions WHERE id=$1`, callID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CallSession{}, ErrCallNotFound
	}
	return session, err
}

// Terminate applies ringing -> status. When the session already left ringing
// the stored session is returned unchanged with false.
func (r *CallRepo) Terminate(ctx context.Context, callID string, status string) (models.CallSession, bool, error) {
	var session models.CallSession
	err := r.db.QueryRowxContext(ctx, `UPDATE call_sessions SET status=$2, ended_at=NOW()
        WHERE id=$1 AND status=$3
        RETURNING id, caller_id, receiver_id, status, started_at, ended_at`,
		callID, status, models.CallRinging).StructScan(&session)
	if err == nil {
		return session, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.CallSession{}, false, err
	}
	session, err = r.GetSession(ctx, callID)
	return session, false, err
}
