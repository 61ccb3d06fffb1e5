package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pairprep/interview-server-go/internal/database"
	"github.com/pairprep/interview-server-go/internal/model"
)

type SessionRepository interface {
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindDetail(ctx context.Context, id string) (*model.SessionDetail, error)
	ListByStatus(ctx context.Context, status model.SessionStatus, limit int) ([]model.SessionDetail, error)
	ListByMember(ctx context.Context, userID string, status model.SessionStatus, limit int) ([]model.SessionDetail, error)
	// AddParticipant appends the user to the participant list if and only if
	// the session is active, the user is not already a member, and the list
	// is below max_participants. The session row is locked FOR UPDATE in a
	// transaction before the capacity count, so two joins racing at
	// count == max-1 serialize on the lock and the loser re-counts after the
	// winner's commit.
	AddParticipant(ctx context.Context, sessionID, userID string) (bool, error)
	RemoveParticipant(ctx context.Context, sessionID, userID string) (bool, error)
	MarkCompleted(ctx context.Context, id string, resourcesReleased bool) error
	MarkReleased(ctx context.Context, id string) error
	ListUnreleased(ctx context.Context, limit int) ([]model.Session, error)
	Delete(ctx context.Context, id string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db sqlxDB
	// sqlDB begins the membership transactions; nil inside WithTx, where the
	// caller owns the transaction.
	sqlDB *database.DB
}

func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepo{db: db, sqlDB: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

// inTx runs fn in its own transaction, or directly when this repository is
// already transaction-scoped.
func (r *sessionRepo) inTx(ctx context.Context, fn func(repo *sessionRepo) error) error {
	if r.sqlDB == nil {
		return fn(r)
	}
	return r.sqlDB.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(r.WithTx(tx).(*sessionRepo))
	})
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (problem, difficulty, host_id, max_participants, call_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.Problem, params.Difficulty, params.HostID, params.MaxParticipants, params.CallID)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindDetail(ctx context.Context, id string) (*model.SessionDetail, error) {
	session, err := r.FindByID(ctx, id)
	if err != nil || session == nil {
		return nil, err
	}

	details, err := r.loadDetails(ctx, []model.Session{*session})
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

func (r *sessionRepo) ListByStatus(ctx context.Context, status model.SessionStatus, limit int) ([]model.SessionDetail, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	return r.loadDetails(ctx, sessions)
}

func (r *sessionRepo) ListByMember(ctx context.Context, userID string, status model.SessionStatus, limit int) ([]model.SessionDetail, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT s.* FROM sessions s
		WHERE s.status = $2
		AND (s.host_id = $1 OR EXISTS (
			SELECT 1 FROM session_participants sp
			WHERE sp.session_id = s.id AND sp.user_id = $1
		))
		ORDER BY s.created_at DESC
		LIMIT $3
	`, userID, status, limit)
	if err != nil {
		return nil, err
	}
	return r.loadDetails(ctx, sessions)
}

func (r *sessionRepo) AddParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	var added bool
	err := r.inTx(ctx, func(repo *sessionRepo) error {
		var err error
		added, err = repo.addParticipant(ctx, sessionID, userID)
		return err
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// addParticipant is the locked membership write. The FOR UPDATE on the
// session row serializes concurrent joins; under read committed, the count
// statement after the lock sees the winner's committed insert, so the
// capacity check cannot be satisfied twice at count == max-1.
func (r *sessionRepo) addParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	var maxParticipants int
	err := r.db.GetContext(ctx, &maxParticipants, `
		SELECT max_participants FROM sessions
		WHERE id = $1 AND status = 'active'
		FOR UPDATE
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var count int
	err = r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM session_participants WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return false, err
	}
	if count >= maxParticipants {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO session_participants (session_id, user_id, position)
		VALUES ($1, $2, (
			SELECT COALESCE(MAX(position) + 1, 0)
			FROM session_participants WHERE session_id = $1))
		ON CONFLICT (session_id, user_id) DO NOTHING
	`, sessionID, userID)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE sessions SET updated_at = NOW() WHERE id = $1
	`, sessionID)
	return true, err
}

func (r *sessionRepo) RemoveParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	var removed bool
	err := r.inTx(ctx, func(repo *sessionRepo) error {
		var err error
		removed, err = repo.removeParticipant(ctx, sessionID, userID)
		return err
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

func (r *sessionRepo) removeParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM session_participants
		WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE sessions SET updated_at = NOW() WHERE id = $1
	`, sessionID)
	return true, err
}

func (r *sessionRepo) MarkCompleted(ctx context.Context, id string, resourcesReleased bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = 'completed',
			resources_released = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, id, resourcesReleased)
	return err
}

func (r *sessionRepo) MarkReleased(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			resources_released = TRUE,
			updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func (r *sessionRepo) ListUnreleased(ctx context.Context, limit int) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE status = 'completed' AND resources_released = FALSE
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE id = $1
	`, id)
	return err
}

type participantRow struct {
	SessionID string `db:"session_id"`
	model.User
}

// loadDetails expands a slice of session rows with their host and
// participant users in two batched queries.
func (r *sessionRepo) loadDetails(ctx context.Context, sessions []model.Session) ([]model.SessionDetail, error) {
	if len(sessions) == 0 {
		return []model.SessionDetail{}, nil
	}

	sessionIDs := make([]string, 0, len(sessions))
	hostIDs := make([]string, 0, len(sessions))
	for _, s := range sessions {
		sessionIDs = append(sessionIDs, s.ID)
		hostIDs = append(hostIDs, s.HostID)
	}

	var hosts []model.User
	err := r.db.SelectContext(ctx, &hosts, `
		SELECT * FROM users WHERE id = ANY($1::uuid[])
	`, pq.Array(hostIDs))
	if err != nil {
		return nil, err
	}
	hostsByID := make(map[string]model.User, len(hosts))
	for _, h := range hosts {
		hostsByID[h.ID] = h
	}

	var rows []participantRow
	err = r.db.SelectContext(ctx, &rows, `
		SELECT sp.session_id, u.*
		FROM session_participants sp
		JOIN users u ON u.id = sp.user_id
		WHERE sp.session_id = ANY($1::uuid[])
		ORDER BY sp.session_id, sp.position
	`, pq.Array(sessionIDs))
	if err != nil {
		return nil, err
	}
	participantsBySession := make(map[string][]model.User)
	for _, row := range rows {
		participantsBySession[row.SessionID] = append(participantsBySession[row.SessionID], row.User)
	}

	details := make([]model.SessionDetail, 0, len(sessions))
	for _, s := range sessions {
		participants := participantsBySession[s.ID]
		if participants == nil {
			participants = []model.User{}
		}
		details = append(details, model.SessionDetail{
			Session:      s,
			Host:         hostsByID[s.HostID],
			Participants: participants,
		})
	}
	return details, nil
}
