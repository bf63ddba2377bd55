package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pocketping/hub/pkg/chat"
)

// ---------------------------------------------------------------------------
// SQLite store
// ---------------------------------------------------------------------------

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	visitor_id      TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	last_activity   INTEGER NOT NULL,
	operator_online INTEGER NOT NULL DEFAULT 0,
	ai_active       INTEGER NOT NULL DEFAULT 0,
	metadata        TEXT,
	identity        TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_visitor ON sessions(visitor_id, last_activity);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	content      TEXT NOT NULL,
	sender       TEXT NOT NULL,
	sender_name  TEXT,
	status       TEXT NOT NULL,
	timestamp    INTEGER NOT NULL,
	reply_to     TEXT,
	attachments  TEXT,
	delivered_at INTEGER,
	read_at      INTEGER,
	edited_at    INTEGER,
	deleted_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

CREATE TABLE IF NOT EXISTS bridge_message_ids (
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	bridge     TEXT NOT NULL,
	native_id  TEXT NOT NULL,
	PRIMARY KEY (message_id, bridge)
);
CREATE INDEX IF NOT EXISTS idx_bridge_native ON bridge_message_ids(bridge, native_id);
`

// SQLiteStore persists sessions and messages in a single SQLite file.
// Message ordering relies on rowid, so upserts keep their position.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session *chat.Session) error {
	metadata, identity, err := encodeSessionBlobs(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, visitor_id, created_at, last_activity, operator_online, ai_active, metadata, identity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.VisitorID,
		session.CreatedAt.UnixMilli(), session.LastActivity.UnixMilli(),
		boolToInt(session.OperatorOnline), boolToInt(session.AIActive),
		metadata, identity)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*chat.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, visitor_id, created_at, last_activity, operator_online, ai_active, metadata, identity
		FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

func (s *SQLiteStore) GetSessionByVisitorID(ctx context.Context, visitorID string) (*chat.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, visitor_id, created_at, last_activity, operator_online, ai_active, metadata, identity
		FROM sessions WHERE visitor_id = ?
		ORDER BY last_activity DESC LIMIT 1`, visitorID)
	return scanSession(row)
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *chat.Session) error {
	metadata, identity, err := encodeSessionBlobs(session)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET visitor_id = ?, last_activity = ?, operator_online = ?, ai_active = ?, metadata = ?, identity = ?
		WHERE id = ?`,
		session.VisitorID, session.LastActivity.UnixMilli(),
		boolToInt(session.OperatorOnline), boolToInt(session.AIActive),
		metadata, identity, session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, visitor_id, created_at, last_activity, operator_online, ai_active, metadata, identity
		FROM sessions ORDER BY last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*chat.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *chat.Message) error {
	attachments, err := encodeJSON(msg.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, content, sender, sender_name, status, timestamp, reply_to, attachments, delivered_at, read_at, edited_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			sender_name = excluded.sender_name,
			status = excluded.status,
			attachments = excluded.attachments,
			delivered_at = excluded.delivered_at,
			read_at = excluded.read_at,
			edited_at = excluded.edited_at,
			deleted_at = excluded.deleted_at`,
		msg.ID, msg.SessionID, msg.Content, string(msg.Sender), msg.SenderName,
		string(msg.Status), msg.Timestamp.UnixMilli(), msg.ReplyTo, attachments,
		timePtrToMilli(msg.DeliveredAt), timePtrToMilli(msg.ReadAt),
		timePtrToMilli(msg.EditedAt), timePtrToMilli(msg.DeletedAt))
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*chat.Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelect+` WHERE id = ?`, messageID)
	return scanMessage(row)
}

func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, after string, limit int) ([]*chat.Message, error) {
	query := messageSelect + ` WHERE session_id = ?`
	args := []interface{}{sessionID}
	if after != "" {
		// COALESCE keeps an unknown cursor from turning the comparison
		// into NULL; history starts from the beginning instead.
		query += ` AND rowid > COALESCE((SELECT rowid FROM messages WHERE id = ?), 0)`
		args = append(args, after)
	}
	query += ` ORDER BY rowid`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveBridgeMessageIDs(ctx context.Context, messageID string, ids chat.BridgeMessageIDs) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for bridge, native := range ids {
		if native == "" {
			continue
		}
		// INSERT OR IGNORE keeps the first-written ID, matching Merge.
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO bridge_message_ids (message_id, bridge, native_id)
			VALUES (?, ?, ?)`, messageID, bridge, native); err != nil {
			return fmt.Errorf("save bridge id %s: %w", bridge, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetBridgeMessageIDs(ctx context.Context, messageID string) (chat.BridgeMessageIDs, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bridge, native_id FROM bridge_message_ids WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, fmt.Errorf("get bridge ids: %w", err)
	}
	defer rows.Close()

	ids := make(chat.BridgeMessageIDs)
	for rows.Next() {
		var bridge, native string
		if err := rows.Scan(&bridge, &native); err != nil {
			return nil, err
		}
		ids[bridge] = native
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) MessageByBridgeID(ctx context.Context, bridge, nativeID string) (*chat.Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelect+`
		WHERE id = (SELECT message_id FROM bridge_message_ids WHERE bridge = ? AND native_id = ?)`,
		bridge, nativeID)
	return scanMessage(row)
}

func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE last_activity < ?`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("cleanup sessions: %w", err)
	}
	defer rows.Close()
	var removed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		removed = append(removed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity < ?`, cutoff.UnixMilli()); err != nil {
		return nil, fmt.Errorf("cleanup sessions: %w", err)
	}
	return removed, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

const messageSelect = `
	SELECT id, session_id, content, sender, sender_name, status, timestamp, reply_to, attachments, delivered_at, read_at, edited_at, deleted_at
	FROM messages`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*chat.Session, error) {
	var (
		session            chat.Session
		created, activity  int64
		opOnline, aiActive int
		metadata, identity sql.NullString
	)
	err := row.Scan(&session.ID, &session.VisitorID, &created, &activity,
		&opOnline, &aiActive, &metadata, &identity)
	if err == sql.ErrNoRows {
		return nil, chat.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.CreatedAt = time.UnixMilli(created).UTC()
	session.LastActivity = time.UnixMilli(activity).UTC()
	session.OperatorOnline = opOnline != 0
	session.AIActive = aiActive != 0
	if metadata.Valid && metadata.String != "" {
		session.Metadata = &chat.SessionMetadata{}
		if err := json.Unmarshal([]byte(metadata.String), session.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if identity.Valid && identity.String != "" {
		session.Identity = &chat.UserIdentity{}
		if err := json.Unmarshal([]byte(identity.String), session.Identity); err != nil {
			return nil, fmt.Errorf("decode identity: %w", err)
		}
	}
	return &session, nil
}

func scanMessage(row rowScanner) (*chat.Message, error) {
	var (
		msg                 chat.Message
		sender, status      string
		senderName, replyTo sql.NullString
		attachments         sql.NullString
		ts                  int64
		delivered, read     sql.NullInt64
		edited, deleted     sql.NullInt64
	)
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Content, &sender, &senderName,
		&status, &ts, &replyTo, &attachments, &delivered, &read, &edited, &deleted)
	if err == sql.ErrNoRows {
		return nil, chat.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg.Sender = chat.Sender(sender)
	msg.Status = chat.MessageStatus(status)
	msg.SenderName = senderName.String
	msg.ReplyTo = replyTo.String
	msg.Timestamp = time.UnixMilli(ts).UTC()
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	msg.DeliveredAt = milliToTimePtr(delivered)
	msg.ReadAt = milliToTimePtr(read)
	msg.EditedAt = milliToTimePtr(edited)
	msg.DeletedAt = milliToTimePtr(deleted)
	return &msg, nil
}

func encodeSessionBlobs(session *chat.Session) (metadata, identity interface{}, err error) {
	metadata, err = encodeJSON(session.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	identity, err = encodeJSON(session.Identity)
	if err != nil {
		return nil, nil, fmt.Errorf("encode identity: %w", err)
	}
	return metadata, identity, nil
}

func encodeJSON(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case *chat.SessionMetadata:
		if x == nil {
			return nil, nil
		}
	case *chat.UserIdentity:
		if x == nil {
			return nil, nil
		}
	case []chat.Attachment:
		if len(x) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrToMilli(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func milliToTimePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
