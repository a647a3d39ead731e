package db

import (
	"context"
	"time"
)

// Plugin is a named, versioned reply fragment.
type Plugin struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const pluginColumns = `id, name, version, code, created_at, updated_at`

func scanPlugin(row interface{ Scan(...any) error }) (*Plugin, error) {
	var p Plugin
	var created, updated int64
	if err := row.Scan(&p.ID, &p.Name, &p.Version, &p.Code, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

// GetPlugin returns the plugin with id or ErrNotFound.
func (q *Queries) GetPlugin(ctx context.Context, id int64) (*Plugin, error) {
	p, err := scanPlugin(q.db.QueryRowContext(ctx,
		`SELECT `+pluginColumns+` FROM plugins WHERE id = ?`, id))
	return p, wrap("get plugin", err)
}

// GetPluginByName returns the plugin called name or ErrNotFound.
func (q *Queries) GetPluginByName(ctx context.Context, name string) (*Plugin, error) {
	p, err := scanPlugin(q.db.QueryRowContext(ctx,
		`SELECT `+pluginColumns+` FROM plugins WHERE name = ?`, name))
	return p, wrap("get plugin by name", err)
}

// ListPlugins returns all plugins ordered by name.
func (q *Queries) ListPlugins(ctx context.Context) ([]Plugin, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+pluginColumns+` FROM plugins ORDER BY name`)
	if err != nil {
		return nil, wrap("list plugins", err)
	}
	defer rows.Close()

	var out []Plugin
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, wrap("list plugins", err)
		}
		out = append(out, *p)
	}
	return out, wrap("list plugins", rows.Err())
}

// UpsertPlugin creates the plugin or replaces the code and version of the one with the same name.
func (q *Queries) UpsertPlugin(ctx context.Context, name, version, code string) (*Plugin, error) {
	ts := now()
	_, err := q.db.ExecContext(ctx, `
INSERT INTO plugins (name, version, code, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET version = excluded.version, code = excluded.code, updated_at = excluded.updated_at`,
		name, version, code, ts, ts)
	if err != nil {
		return nil, wrap("upsert plugin", err)
	}
	return q.GetPluginByName(ctx, name)
}

// DeletePlugin removes a plugin, reporting whether a row existed.
func (q *Queries) DeletePlugin(ctx context.Context, id int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM plugins WHERE id = ?`, id)
	if err != nil {
		return false, wrap("delete plugin", err)
	}
	n, err := res.RowsAffected()
	return n > 0, wrap("delete plugin", err)
}

// DeletePluginsByVersion purges plugins of an outdated version.
func (q *Queries) DeletePluginsByVersion(ctx context.Context, version string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM plugins WHERE version = ?`, version)
	if err != nil {
		return 0, wrap("delete plugins by version", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("delete plugins by version", err)
}
