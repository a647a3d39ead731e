package db

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Config is one configuration row: the global row or an instance/platform override.
type Config struct {
	ID         int64
	PlatformID string
	InstanceID string
	Global     bool
	Active     bool

	HasPaused       bool
	HasKeywordMatch bool
	HasUseGPT       bool
	HasTransfer     bool
	HasReplace      bool
	HasMouseClose   bool
	HasEscClose     bool
	UsePlugin       bool
	ExtractPhone    bool
	ExtractProduct  bool
	Stream          bool
	UseDify         bool

	ReplySpeed       float64
	ReplyRandomSpeed float64
	ContextCount     int64
	WaitHumansTime   int64
	DefaultReply     string
	SavePath         string

	JinritemaiDefaultReplyMatch sql.NullString
	TruncateWordKey             sql.NullString
	TruncateWordCount           sql.NullInt64

	GPTBaseURL     string
	GPTKey         string
	GPTModel       string
	GPTTemperature float64
	GPTTopP        float64

	PluginID sql.NullInt64

	CreatedAt time.Time
	UpdatedAt time.Time
}

const configColumns = `id, platform_id, instance_id, global, active,
 has_paused, has_keyword_match, has_use_gpt, has_transfer, has_replace, has_mouse_close, has_esc_close,
 use_plugin, extract_phone, extract_product, stream, use_dify,
 reply_speed, reply_random_speed, context_count, wait_humans_time, default_reply, save_path,
 jinritemai_default_reply_match, truncate_word_key, truncate_word_count,
 gpt_base_url, gpt_key, gpt_model, gpt_temperature, gpt_top_p, plugin_id, created_at, updated_at`

func scanConfig(row interface{ Scan(...any) error }) (*Config, error) {
	var c Config
	var created, updated int64
	err := row.Scan(&c.ID, &c.PlatformID, &c.InstanceID, &c.Global, &c.Active,
		&c.HasPaused, &c.HasKeywordMatch, &c.HasUseGPT, &c.HasTransfer, &c.HasReplace, &c.HasMouseClose, &c.HasEscClose,
		&c.UsePlugin, &c.ExtractPhone, &c.ExtractProduct, &c.Stream, &c.UseDify,
		&c.ReplySpeed, &c.ReplyRandomSpeed, &c.ContextCount, &c.WaitHumansTime, &c.DefaultReply, &c.SavePath,
		&c.JinritemaiDefaultReplyMatch, &c.TruncateWordKey, &c.TruncateWordCount,
		&c.GPTBaseURL, &c.GPTKey, &c.GPTModel, &c.GPTTemperature, &c.GPTTopP, &c.PluginID, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

// GetGlobalConfig returns the single global row or ErrNotFound.
func (q *Queries) GetGlobalConfig(ctx context.Context) (*Config, error) {
	c, err := scanConfig(q.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM configs WHERE global = 1 ORDER BY id LIMIT 1`))
	return c, wrap("get global config", err)
}

// GetConfigByID returns a config row by primary key.
func (q *Queries) GetConfigByID(ctx context.Context, id int64) (*Config, error) {
	c, err := scanConfig(q.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM configs WHERE id = ?`, id))
	return c, wrap("get config", err)
}

// FindScopedConfig returns the active override row for exactly (instanceID, platformID).
// Either key may be empty to address an instance-wide or platform-wide row.
func (q *Queries) FindScopedConfig(ctx context.Context, instanceID, platformID string) (*Config, error) {
	c, err := scanConfig(q.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM configs
		 WHERE global = 0 AND active = 1 AND instance_id = ? AND platform_id = ?
		 ORDER BY id LIMIT 1`, instanceID, platformID))
	return c, wrap("find scoped config", err)
}

// ListConfigs returns every config row, global first.
func (q *Queries) ListConfigs(ctx context.Context) ([]Config, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+configColumns+` FROM configs ORDER BY global DESC, id`)
	if err != nil {
		return nil, wrap("list configs", err)
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, wrap("list configs", err)
		}
		out = append(out, *c)
	}
	return out, wrap("list configs", rows.Err())
}

// ConfigScope addresses a config row.
type ConfigScope struct {
	InstanceID string
	PlatformID string
	Global     bool
}

// CreateConfig inserts a row with column defaults for scope.
func (q *Queries) CreateConfig(ctx context.Context, scope ConfigScope) (*Config, error) {
	ts := now()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO configs (instance_id, platform_id, global, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		scope.InstanceID, scope.PlatformID, boolToInt(scope.Global), ts, ts)
	if err != nil {
		return nil, wrap("create config", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, wrap("create config", err)
	}
	return q.GetConfigByID(ctx, id)
}

// ConfigPatch lists the fields to change. Nil fields are left untouched.
// A PluginID of 0 clears the reference.
type ConfigPatch struct {
	Active          *bool
	HasPaused       *bool
	HasKeywordMatch *bool
	HasUseGPT       *bool
	HasTransfer     *bool
	HasReplace      *bool
	HasMouseClose   *bool
	HasEscClose     *bool
	UsePlugin       *bool
	ExtractPhone    *bool
	ExtractProduct  *bool
	Stream          *bool
	UseDify         *bool

	ReplySpeed       *float64
	ReplyRandomSpeed *float64
	ContextCount     *int64
	WaitHumansTime   *int64
	DefaultReply     *string
	SavePath         *string

	JinritemaiDefaultReplyMatch *string
	TruncateWordKey             *string
	TruncateWordCount           *int64

	GPTBaseURL     *string
	GPTKey         *string
	GPTModel       *string
	GPTTemperature *float64
	GPTTopP        *float64

	PluginID *int64
}

type assignments struct {
	cols []string
	args []any
}

func (a *assignments) set(col string, v any) {
	a.cols = append(a.cols, col+" = ?")
	a.args = append(a.args, v)
}

func setBool(a *assignments, col string, v *bool) {
	if v != nil {
		a.set(col, boolToInt(*v))
	}
}

func setValue[T any](a *assignments, col string, v *T) {
	if v != nil {
		a.set(col, *v)
	}
}

func (p ConfigPatch) assignments() *assignments {
	a := &assignments{}
	setBool(a, "active", p.Active)
	setBool(a, "has_paused", p.HasPaused)
	setBool(a, "has_keyword_match", p.HasKeywordMatch)
	setBool(a, "has_use_gpt", p.HasUseGPT)
	setBool(a, "has_transfer", p.HasTransfer)
	setBool(a, "has_replace", p.HasReplace)
	setBool(a, "has_mouse_close", p.HasMouseClose)
	setBool(a, "has_esc_close", p.HasEscClose)
	setBool(a, "use_plugin", p.UsePlugin)
	setBool(a, "extract_phone", p.ExtractPhone)
	setBool(a, "extract_product", p.ExtractProduct)
	setBool(a, "stream", p.Stream)
	setBool(a, "use_dify", p.UseDify)
	setValue(a, "reply_speed", p.ReplySpeed)
	setValue(a, "reply_random_speed", p.ReplyRandomSpeed)
	setValue(a, "context_count", p.ContextCount)
	setValue(a, "wait_humans_time", p.WaitHumansTime)
	setValue(a, "default_reply", p.DefaultReply)
	setValue(a, "save_path", p.SavePath)
	setValue(a, "jinritemai_default_reply_match", p.JinritemaiDefaultReplyMatch)
	setValue(a, "truncate_word_key", p.TruncateWordKey)
	setValue(a, "truncate_word_count", p.TruncateWordCount)
	setValue(a, "gpt_base_url", p.GPTBaseURL)
	setValue(a, "gpt_key", p.GPTKey)
	setValue(a, "gpt_model", p.GPTModel)
	setValue(a, "gpt_temperature", p.GPTTemperature)
	setValue(a, "gpt_top_p", p.GPTTopP)
	if p.PluginID != nil {
		if *p.PluginID == 0 {
			a.set("plugin_id", nil)
		} else {
			a.set("plugin_id", *p.PluginID)
		}
	}
	return a
}

// UpdateConfig applies patch to row id and returns the updated row.
func (q *Queries) UpdateConfig(ctx context.Context, id int64, patch ConfigPatch) (*Config, error) {
	a := patch.assignments()
	if len(a.cols) == 0 {
		return q.GetConfigByID(ctx, id)
	}
	a.set("updated_at", now())
	args := append(a.args, id)
	res, err := q.db.ExecContext(ctx,
		`UPDATE configs SET `+strings.Join(a.cols, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, wrap("update config", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return q.GetConfigByID(ctx, id)
}

// DeleteConfig removes a config row.
func (q *Queries) DeleteConfig(ctx context.Context, id int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM configs WHERE id = ?`, id)
	if err != nil {
		return false, wrap("delete config", err)
	}
	n, err := res.RowsAffected()
	return n > 0, wrap("delete config", err)
}
