package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/message"
)

// DefaultDBFileName is the SQLite filename under the data directory.
const DefaultDBFileName = "messages.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  api_id          TEXT,
  conversation_id TEXT NOT NULL,
  type            INTEGER NOT NULL,
  contents_type   INTEGER NOT NULL,
  body            BLOB,
  outbox          INTEGER NOT NULL DEFAULT 0,
  state           TEXT CHECK(state IN ('pending','sending','sent','delivered','read','failed')) DEFAULT 'pending',
  created_at      INTEGER NOT NULL,
  posted_at       INTEGER NOT NULL,
  recipient_errors TEXT
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
ON messages (conversation_id, posted_at DESC);
`,
	`
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_api_id
ON messages (api_id) WHERE api_id IS NOT NULL AND api_id != '';
`,
}

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (and migrates) the message database under dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	path := filepath.Join(dataDir, DefaultDBFileName)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open message database: %w", err)
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSQLiteStore",
		"path":     path,
	}).Info("Message store opened")

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateOrUpdate inserts or updates a message row.
func (s *SQLiteStore) CreateOrUpdate(msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recipientErrors []byte
	if len(msg.PerRecipientErrors) > 0 {
		var err error
		recipientErrors, err = json.Marshal(msg.PerRecipientErrors)
		if err != nil {
			return fmt.Errorf("failed to encode recipient errors: %w", err)
		}
	}

	if msg.ID == 0 {
		res, err := s.db.Exec(`
INSERT INTO messages (api_id, conversation_id, type, contents_type, body, outbox, state, created_at, posted_at, recipient_errors)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(msg.APIID), msg.ConversationID, msg.Type, msg.ContentsType, msg.Body,
			boolToInt(msg.Outbox), msg.GetState().String(), msg.CreatedAt.UnixMilli(), msg.PostedAt.UnixMilli(),
			nullableText(recipientErrors))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read row id: %w", err)
		}
		msg.ID = id
		msg.Saved = true
		return nil
	}

	_, err := s.db.Exec(`
UPDATE messages SET api_id = ?, body = ?, state = ?, posted_at = ?, recipient_errors = ?
WHERE id = ?`,
		string(msg.APIID), msg.Body, msg.GetState().String(), msg.PostedAt.UnixMilli(),
		nullableText(recipientErrors), msg.ID)
	if err != nil {
		return fmt.Errorf("failed to update message %d: %w", msg.ID, err)
	}
	msg.Saved = true
	return nil
}

// Find returns messages for a conversation, newest first.
func (s *SQLiteStore) Find(conversationID string, filter Filter) ([]*message.Message, error) {
	query := `SELECT id, api_id, conversation_id, type, contents_type, body, outbox, state, created_at, posted_at, recipient_errors
FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}

	if filter.UnreadOnly {
		query += ` AND outbox = 0 AND state != 'read'`
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += ` AND type IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY posted_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// FindByID looks a message up by its local row id.
func (s *SQLiteStore) FindByID(id int64) (*message.Message, error) {
	rows, err := s.db.Query(`SELECT id, api_id, conversation_id, type, contents_type, body, outbox, state, created_at, posted_at, recipient_errors
FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrMessageNotFound
	}
	return msgs[0], nil
}

// FindByAPIID looks a message up by its wire identifier.
func (s *SQLiteStore) FindByAPIID(id message.APIMessageID) (*message.Message, error) {
	rows, err := s.db.Query(`SELECT id, api_id, conversation_id, type, contents_type, body, outbox, state, created_at, posted_at, recipient_errors
FROM messages WHERE api_id = ?`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrMessageNotFound
	}
	return msgs[0], nil
}

// MarkDeliveryState updates only the delivery state of the row with the
// given wire identifier.
func (s *SQLiteStore) MarkDeliveryState(id message.APIMessageID, state message.DeliveryState) error {
	res, err := s.db.Exec(`UPDATE messages SET state = ? WHERE api_id = ?`,
		state.String(), string(id))
	if err != nil {
		return fmt.Errorf("failed to update delivery state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Count returns the number of messages in a conversation.
func (s *SQLiteStore) Count(conversationID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// CountUnread returns the number of unread inbox messages.
func (s *SQLiteStore) CountUnread(conversationID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages
WHERE conversation_id = ? AND outbox = 0 AND state != 'read'`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

// Unread returns the unread inbox messages, oldest first.
func (s *SQLiteStore) Unread(conversationID string) ([]*message.Message, error) {
	rows, err := s.db.Query(`SELECT id, api_id, conversation_id, type, contents_type, body, outbox, state, created_at, posted_at, recipient_errors
FROM messages WHERE conversation_id = ? AND outbox = 0 AND state != 'read'
ORDER BY posted_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unread messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// LastMessage returns the newest message of a conversation.
func (s *SQLiteStore) LastMessage(conversationID string) (*message.Message, error) {
	msgs, err := s.Find(conversationID, Filter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrMessageNotFound
	}
	return msgs[0], nil
}

// HasVoipStatus reports whether a voip status row for the given call exists
// among the newest limit rows of a conversation.
func (s *SQLiteStore) HasVoipStatus(conversationID string, callID uint64, limit int) (bool, error) {
	msgs, err := s.Find(conversationID, Filter{
		Types: []message.Type{message.TypeVoipSignal},
		Limit: limit,
	})
	if err != nil {
		return false, err
	}

	for _, msg := range msgs {
		var payload message.VoipSignalPayload
		if err := message.DecodeBody(msg.Body, &payload); err != nil {
			continue
		}
		if payload.CallID == callID {
			return true, nil
		}
	}
	return false, nil
}

func scanMessages(rows *sql.Rows) ([]*message.Message, error) {
	var out []*message.Message
	for rows.Next() {
		var (
			msg             message.Message
			apiID           sql.NullString
			state           string
			outbox          int
			createdAt       int64
			postedAt        int64
			recipientErrors sql.NullString
		)
		err := rows.Scan(&msg.ID, &apiID, &msg.ConversationID, &msg.Type, &msg.ContentsType,
			&msg.Body, &outbox, &state, &createdAt, &postedAt, &recipientErrors)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}

		msg.APIID = message.APIMessageID(apiID.String)
		msg.Outbox = outbox != 0
		msg.Saved = true
		msg.State = parseState(state)
		msg.CreatedAt = time.UnixMilli(createdAt)
		msg.PostedAt = time.UnixMilli(postedAt)
		if recipientErrors.Valid && recipientErrors.String != "" {
			if err := json.Unmarshal([]byte(recipientErrors.String), &msg.PerRecipientErrors); err != nil {
				return nil, fmt.Errorf("corrupt recipient errors on row %d: %w", msg.ID, err)
			}
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func parseState(s string) message.DeliveryState {
	switch s {
	case "pending":
		return message.StatePending
	case "sending":
		return message.StateSending
	case "sent":
		return message.StateSent
	case "delivered":
		return message.StateDelivered
	case "read":
		return message.StateRead
	case "failed":
		return message.StateFailed
	default:
		return message.StatePending
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
