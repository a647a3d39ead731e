package db

import (
	"context"
	"strings"
	"time"
)

// Session groups the message log of one customer on one platform/instance.
type Session struct {
	ID         int64     `json:"id"`
	PlatformID string    `json:"platform_id"`
	InstanceID string    `json:"instance_id"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Message is one logged chat line.
type Message struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Sender    string    `json:"sender"`
	Role      string    `json:"role"`
	MsgType   string    `json:"msg_type"`
	Content   string    `json:"content"`
	ReplyType string    `json:"reply_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionMessage is a message joined with its session keys.
type SessionMessage struct {
	Message
	PlatformID string `json:"platform_id"`
	InstanceID string `json:"instance_id"`
	Username   string `json:"username"`
}

// ExtractedInfo is a phone number or product mention pulled out of a conversation.
type ExtractedInfo struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Value      string    `json:"value"`
	PlatformID string    `json:"platform_id"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
}

// UpsertSession returns the session for the scope, creating it on first use.
func (q *Queries) UpsertSession(ctx context.Context, platformID, instanceID, username string) (*Session, error) {
	ts := now()
	_, err := q.db.ExecContext(ctx, `
INSERT INTO sessions (platform_id, instance_id, username, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(platform_id, instance_id, username) DO UPDATE SET updated_at = excluded.updated_at`,
		platformID, instanceID, username, ts, ts)
	if err != nil {
		return nil, wrap("upsert session", err)
	}

	var s Session
	var created, updated int64
	err = q.db.QueryRowContext(ctx,
		`SELECT id, platform_id, instance_id, username, created_at, updated_at FROM sessions
		 WHERE platform_id = ? AND instance_id = ? AND username = ?`,
		platformID, instanceID, username,
	).Scan(&s.ID, &s.PlatformID, &s.InstanceID, &s.Username, &created, &updated)
	if err != nil {
		return nil, wrap("upsert session", err)
	}
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}

// InsertMessage appends m to its session. A zero CreatedAt is stamped with now.
func (q *Queries) InsertMessage(ctx context.Context, m Message) (int64, error) {
	created := now()
	if !m.CreatedAt.IsZero() {
		created = m.CreatedAt.UnixMilli()
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, sender, role, msg_type, content, reply_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Sender, m.Role, m.MsgType, m.Content, m.ReplyType, created)
	if err != nil {
		return 0, wrap("insert message", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("insert message", err)
}

// MessageFilter narrows ListSessionMessages.
type MessageFilter struct {
	PlatformID string
	Keyword    string
	StartTime  time.Time
	EndTime    time.Time
	Offset     int
	Limit      int
}

// ListSessionMessages pages through sessions matching f (most recent first) and
// returns every message of the selected sessions plus the total session count.
func (q *Queries) ListSessionMessages(ctx context.Context, f MessageFilter) ([]SessionMessage, int64, error) {
	where := []string{"1 = 1"}
	var args []any
	if f.PlatformID != "" {
		where = append(where, "s.platform_id = ?")
		args = append(args, f.PlatformID)
	}
	if f.Keyword != "" {
		where = append(where, "(s.username LIKE ? OR EXISTS (SELECT 1 FROM messages k WHERE k.session_id = s.id AND k.content LIKE ?))")
		like := "%" + f.Keyword + "%"
		args = append(args, like, like)
	}
	if !f.StartTime.IsZero() {
		where = append(where, "s.updated_at >= ?")
		args = append(args, f.StartTime.UnixMilli())
	}
	if !f.EndTime.IsZero() {
		where = append(where, "s.updated_at <= ?")
		args = append(args, f.EndTime.UnixMilli())
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions s WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, wrap("count sessions", err)
	}

	page := `SELECT s.id FROM sessions s WHERE ` + cond + ` ORDER BY s.updated_at DESC, s.id DESC`
	pageArgs := append([]any(nil), args...)
	if f.Limit > 0 {
		page += ` LIMIT ? OFFSET ?`
		pageArgs = append(pageArgs, f.Limit, f.Offset)
	}

	rows, err := q.db.QueryContext(ctx, `
SELECT m.id, m.session_id, m.sender, m.role, m.msg_type, m.content, m.reply_type, m.created_at,
       s.platform_id, s.instance_id, s.username
FROM messages m JOIN sessions s ON s.id = m.session_id
WHERE m.session_id IN (`+page+`)
ORDER BY s.updated_at DESC, m.session_id, m.created_at, m.id`, pageArgs...)
	if err != nil {
		return nil, 0, wrap("list session messages", err)
	}
	defer rows.Close()

	var out []SessionMessage
	for rows.Next() {
		var m SessionMessage
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Role, &m.MsgType, &m.Content, &m.ReplyType, &created,
			&m.PlatformID, &m.InstanceID, &m.Username); err != nil {
			return nil, 0, wrap("list session messages", err)
		}
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	return out, total, wrap("list session messages", rows.Err())
}

// SaveExtractedInfo records a value once per (kind, value, platform, username).
func (q *Queries) SaveExtractedInfo(ctx context.Context, e ExtractedInfo) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO extracted_infos (kind, value, platform_id, username, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Kind, e.Value, e.PlatformID, e.Username, now())
	if err != nil {
		return false, wrap("save extracted info", err)
	}
	n, err := res.RowsAffected()
	return n > 0, wrap("save extracted info", err)
}

// ListExtractedInfo returns extracted values of kind, newest first. An empty kind lists all.
func (q *Queries) ListExtractedInfo(ctx context.Context, kind string) ([]ExtractedInfo, error) {
	query := `SELECT id, kind, value, platform_id, username, created_at FROM extracted_infos`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	rows, err := q.db.QueryContext(ctx, query+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, wrap("list extracted info", err)
	}
	defer rows.Close()

	var out []ExtractedInfo
	for rows.Next() {
		var e ExtractedInfo
		var created int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Value, &e.PlatformID, &e.Username, &created); err != nil {
			return nil, wrap("list extracted info", err)
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, wrap("list extracted info", rows.Err())
}
