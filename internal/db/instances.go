package db

import (
	"context"
	"strconv"
	"time"

	"github.com/replydesk/replydesk/internal/domain"
)

// Instance is one managed chat-platform deployment.
type Instance struct {
	ID        int64     `json:"id"`
	AppID     string    `json:"app_id"`
	EnvID     string    `json:"env_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskID is the worker-facing identifier of the instance.
func (i Instance) TaskID() string {
	return strconv.FormatInt(i.ID, 10)
}

// Task maps the instance onto the worker's task descriptor.
func (i Instance) Task() domain.Task {
	env := i.EnvID
	if env == "" {
		env = domain.DefaultEnvID
	}
	return domain.Task{TaskID: i.TaskID(), AppID: i.AppID, EnvID: env}
}

// CreateInstance inserts a new instance. An empty envID gets the default.
func (q *Queries) CreateInstance(ctx context.Context, appID, envID string) (*Instance, error) {
	if envID == "" {
		envID = domain.DefaultEnvID
	}
	created := now()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO instances (app_id, env_id, created_at) VALUES (?, ?, ?)`,
		appID, envID, created)
	if err != nil {
		return nil, wrap("create instance", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, wrap("create instance", err)
	}
	return &Instance{ID: id, AppID: appID, EnvID: envID, CreatedAt: fromMillis(created)}, nil
}

// GetInstance returns the instance with id or ErrNotFound.
func (q *Queries) GetInstance(ctx context.Context, id int64) (*Instance, error) {
	var inst Instance
	var created int64
	err := q.db.QueryRowContext(ctx,
		`SELECT id, app_id, env_id, created_at FROM instances WHERE id = ?`, id,
	).Scan(&inst.ID, &inst.AppID, &inst.EnvID, &created)
	if err != nil {
		return nil, wrap("get instance", err)
	}
	inst.CreatedAt = fromMillis(created)
	return &inst, nil
}

// ListInstances returns every instance ordered by id.
func (q *Queries) ListInstances(ctx context.Context) ([]Instance, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, app_id, env_id, created_at FROM instances ORDER BY id`)
	if err != nil {
		return nil, wrap("list instances", err)
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		var inst Instance
		var created int64
		if err := rows.Scan(&inst.ID, &inst.AppID, &inst.EnvID, &created); err != nil {
			return nil, wrap("list instances", err)
		}
		inst.CreatedAt = fromMillis(created)
		out = append(out, inst)
	}
	return out, wrap("list instances", rows.Err())
}

// DeleteInstance removes only the instance row. Use DeleteInstanceCascade to
// also remove its configs and plugins.
func (q *Queries) DeleteInstance(ctx context.Context, id int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return false, wrap("delete instance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("delete instance", err)
	}
	return n > 0, nil
}

// CascadeResult reports what DeleteInstanceCascade removed.
type CascadeResult struct {
	InstanceDeleted bool
	ConfigsDeleted  int64
	PluginsDeleted  int64
}

// DeleteInstanceCascade removes the instance, every config row scoped to it
// and every plugin those configs reference. Run it inside a transaction.
func (q *Queries) DeleteInstanceCascade(ctx context.Context, id int64) (CascadeResult, error) {
	var res CascadeResult
	deleted, err := q.DeleteInstance(ctx, id)
	if err != nil || !deleted {
		return res, err
	}
	res.InstanceDeleted = true

	taskID := strconv.FormatInt(id, 10)
	pluginIDs, err := q.pluginIDsForInstance(ctx, taskID)
	if err != nil {
		return res, err
	}

	r, err := q.db.ExecContext(ctx, `DELETE FROM configs WHERE instance_id = ? AND global = 0`, taskID)
	if err != nil {
		return res, wrap("delete instance configs", err)
	}
	res.ConfigsDeleted, _ = r.RowsAffected()

	for _, pid := range pluginIDs {
		ok, err := q.DeletePlugin(ctx, pid)
		if err != nil {
			return res, err
		}
		if ok {
			res.PluginsDeleted++
		}
	}
	return res, nil
}

func (q *Queries) pluginIDsForInstance(ctx context.Context, instanceID string) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT DISTINCT plugin_id FROM configs WHERE instance_id = ? AND global = 0 AND plugin_id IS NOT NULL`,
		instanceID)
	if err != nil {
		return nil, wrap("list instance plugins", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("list instance plugins", err)
		}
		ids = append(ids, id)
	}
	return ids, wrap("list instance plugins", rows.Err())
}
