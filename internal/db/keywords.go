package db

import (
	"context"
	"strings"
	"time"
)

// Keyword match modes.
const (
	MatchExact = "exact"
	MatchFuzzy = "fuzzy"
)

// Keyword is a reply rule. An empty PlatformID applies to every platform.
type Keyword struct {
	ID         int64     `json:"id"`
	PlatformID string    `json:"platform_id"`
	Keyword    string    `json:"keyword"`
	Reply      string    `json:"reply"`
	Mode       string    `json:"mode"`
	CreatedAt  time.Time `json:"created_at"`
}

// TransferKeyword marks text that should hand the conversation to a human.
type TransferKeyword struct {
	ID         int64  `json:"id"`
	Keyword    string `json:"keyword"`
	HasRegular bool   `json:"has_regular"`
}

// ReplaceKeyword rewrites sensitive words in outgoing replies.
type ReplaceKeyword struct {
	ID         int64  `json:"id"`
	Keyword    string `json:"keyword"`
	Replace    string `json:"replace"`
	HasRegular bool   `json:"has_regular"`
}

func normalizeMode(mode string) string {
	if strings.EqualFold(mode, MatchExact) {
		return MatchExact
	}
	return MatchFuzzy
}

// CreateKeyword inserts a rule.
func (q *Queries) CreateKeyword(ctx context.Context, k Keyword) (*Keyword, error) {
	k.Mode = normalizeMode(k.Mode)
	created := now()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO keywords (platform_id, keyword, reply, mode, created_at) VALUES (?, ?, ?, ?, ?)`,
		k.PlatformID, k.Keyword, k.Reply, k.Mode, created)
	if err != nil {
		return nil, wrap("create keyword", err)
	}
	if k.ID, err = res.LastInsertId(); err != nil {
		return nil, wrap("create keyword", err)
	}
	k.CreatedAt = fromMillis(created)
	return &k, nil
}

// UpdateKeyword replaces the editable fields of rule k.ID.
func (q *Queries) UpdateKeyword(ctx context.Context, k Keyword) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE keywords SET platform_id = ?, keyword = ?, reply = ?, mode = ? WHERE id = ?`,
		k.PlatformID, k.Keyword, k.Reply, normalizeMode(k.Mode), k.ID)
	if err != nil {
		return wrap("update keyword", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteKeywords removes the listed rules and returns how many existed.
func (q *Queries) DeleteKeywords(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM keywords WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, args...)
	if err != nil {
		return 0, wrap("delete keywords", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("delete keywords", err)
}

// KeywordFilter narrows ListKeywords. Zero values select everything.
type KeywordFilter struct {
	PlatformID string
	Search     string
	Offset     int
	Limit      int
}

// ListKeywords returns one page of rules plus the total count.
func (q *Queries) ListKeywords(ctx context.Context, f KeywordFilter) ([]Keyword, int64, error) {
	where := []string{"1 = 1"}
	var args []any
	if f.PlatformID != "" {
		where = append(where, "platform_id = ?")
		args = append(args, f.PlatformID)
	}
	if f.Search != "" {
		where = append(where, "(keyword LIKE ? OR reply LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM keywords WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, wrap("count keywords", err)
	}

	query := `SELECT id, platform_id, keyword, reply, mode, created_at FROM keywords WHERE ` + cond + ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, wrap("list keywords", err)
	}
	defer rows.Close()

	var out []Keyword
	for rows.Next() {
		var k Keyword
		var created int64
		if err := rows.Scan(&k.ID, &k.PlatformID, &k.Keyword, &k.Reply, &k.Mode, &created); err != nil {
			return nil, 0, wrap("list keywords", err)
		}
		k.CreatedAt = fromMillis(created)
		out = append(out, k)
	}
	return out, total, wrap("list keywords", rows.Err())
}

// KeywordsForPlatform returns global rules plus those bound to platformID.
func (q *Queries) KeywordsForPlatform(ctx context.Context, platformID string) ([]Keyword, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, platform_id, keyword, reply, mode, created_at FROM keywords
		 WHERE platform_id = '' OR platform_id = ? ORDER BY id`, platformID)
	if err != nil {
		return nil, wrap("keywords for platform", err)
	}
	defer rows.Close()

	var out []Keyword
	for rows.Next() {
		var k Keyword
		var created int64
		if err := rows.Scan(&k.ID, &k.PlatformID, &k.Keyword, &k.Reply, &k.Mode, &created); err != nil {
			return nil, wrap("keywords for platform", err)
		}
		k.CreatedAt = fromMillis(created)
		out = append(out, k)
	}
	return out, wrap("keywords for platform", rows.Err())
}

// ListTransferKeywords returns all transfer triggers.
func (q *Queries) ListTransferKeywords(ctx context.Context) ([]TransferKeyword, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, keyword, has_regular FROM transfer_keywords ORDER BY id`)
	if err != nil {
		return nil, wrap("list transfer keywords", err)
	}
	defer rows.Close()

	var out []TransferKeyword
	for rows.Next() {
		var k TransferKeyword
		if err := rows.Scan(&k.ID, &k.Keyword, &k.HasRegular); err != nil {
			return nil, wrap("list transfer keywords", err)
		}
		out = append(out, k)
	}
	return out, wrap("list transfer keywords", rows.Err())
}

// CreateTransferKeyword inserts a transfer trigger.
func (q *Queries) CreateTransferKeyword(ctx context.Context, keyword string, regular bool) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO transfer_keywords (keyword, has_regular) VALUES (?, ?)`, keyword, boolToInt(regular))
	return wrap("create transfer keyword", err)
}

// ListReplaceKeywords returns all replacement rules.
func (q *Queries) ListReplaceKeywords(ctx context.Context) ([]ReplaceKeyword, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, keyword, replace_with, has_regular FROM replace_keywords ORDER BY id`)
	if err != nil {
		return nil, wrap("list replace keywords", err)
	}
	defer rows.Close()

	var out []ReplaceKeyword
	for rows.Next() {
		var k ReplaceKeyword
		if err := rows.Scan(&k.ID, &k.Keyword, &k.Replace, &k.HasRegular); err != nil {
			return nil, wrap("list replace keywords", err)
		}
		out = append(out, k)
	}
	return out, wrap("list replace keywords", rows.Err())
}

// CreateReplaceKeyword inserts a replacement rule.
func (q *Queries) CreateReplaceKeyword(ctx context.Context, keyword, replace string, regular bool) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO replace_keywords (keyword, replace_with, has_regular) VALUES (?, ?, ?)`,
		keyword, replace, boolToInt(regular))
	return wrap("create replace keyword", err)
}

func (q *Queries) count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	return n, wrap("count "+table, err)
}
