package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pdfchat/internal/models"
)

// Transcript records opened sessions and relayed messages. A nil database
// turns every call into a no-op.
type Transcript struct {
	db *sql.DB
}

func NewTranscript(db *sql.DB) *Transcript {
	return &Transcript{db: db}
}

func (t *Transcript) enabled() bool {
	return t != nil && t.db != nil
}

// OpenSession inserts a session row and returns its id (0 when disabled).
func (t *Transcript) OpenSession(ctx context.Context, session *models.Session) (int64, error) {
	if !t.enabled() {
		return 0, nil
	}
	if session == nil || session.UserID == 0 {
		return 0, errors.New("user_id is required")
	}
	created := session.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := t.db.ExecContext(ctx,
		`INSERT INTO doc_sessions (user_id, chat_id, file_name, remote_name, remote_uri, model, pages, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.UserID, session.ChatID, session.FileName, session.Artifact.Name, session.Artifact.URI,
		session.Model, session.Pages, created,
	)
	if err != nil {
		return 0, fmt.Errorf("create transcript session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transcript session id: %w", err)
	}
	return id, nil
}

// CloseSessions stamps closed_at on every open session of the user.
func (t *Transcript) CloseSessions(ctx context.Context, userID int64) error {
	if !t.enabled() {
		return nil
	}
	_, err := t.db.ExecContext(ctx,
		`UPDATE doc_sessions SET closed_at = ? WHERE user_id = ? AND closed_at IS NULL`,
		time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("close transcript sessions: %w", err)
	}
	return nil
}

// AddMessage stores one turn of a session.
func (t *Transcript) AddMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if !t.enabled() || msg.SessionID == 0 {
		return &msg, nil
	}
	now := time.Now().UTC()
	res, err := t.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.UserID, msg.SessionID, msg.Role, msg.Content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now
	return &msg, nil
}

// Messages returns the turns of a session in insertion order.
func (t *Transcript) Messages(ctx context.Context, sessionID int64) ([]*models.Message, error) {
	if !t.enabled() {
		return nil, nil
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.UserID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// PruneBefore deletes sessions closed before cutoff, together with their
// messages, and returns how many sessions went away. Open sessions are kept
// since the registry still writes to them.
func (t *Transcript) PruneBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	if !t.enabled() {
		return 0, nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	cutoff = cutoff.UTC()
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IN (
			SELECT id FROM doc_sessions WHERE closed_at IS NOT NULL AND closed_at < ?
		)`, cutoff,
	); err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM doc_sessions WHERE closed_at IS NOT NULL AND closed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruned rows: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return n, nil
}
