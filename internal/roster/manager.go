// Package roster owns the set of managed instances and keeps the worker's
// task list in step with it.
package roster

import (
	"context"
	"errors"
	"strconv"

	"github.com/replydesk/replydesk/internal/analytics"
	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/domain"
	"github.com/replydesk/replydesk/internal/lifecycle"
	"github.com/replydesk/replydesk/internal/logging"
)

var log = logging.Named("roster")

// ErrPushFailed is returned by AddTask when the worker gave no usable answer
// to the roster push.
var ErrPushFailed = errors.New("roster push got no response")

// Pusher sends the full roster to the worker. A nil result means the outcome
// is unknown.
type Pusher interface {
	UpdateTasks(ctx context.Context, instances []db.Instance) []domain.TaskResult
}

// Publisher records analytics events.
type Publisher interface {
	Publish(ctx context.Context, name string, props map[string]any)
}

type Manager struct {
	store     *db.Store
	pusher    Pusher
	analytics Publisher
	lifecycle *lifecycle.Manager
}

// NewManager creates a roster manager. A nil publisher drops events.
func NewManager(store *db.Store, pusher Pusher, pub Publisher) *Manager {
	if pub == nil {
		pub = (*analytics.Sink)(nil)
	}
	return &Manager{store: store, pusher: pusher, analytics: pub}
}

// WithLifecycle makes the manager emit task_added and task_removed hooks.
func (m *Manager) WithLifecycle(lc *lifecycle.Manager) *Manager {
	m.lifecycle = lc
	return m
}

// ListTasks returns every instance as a worker task. Store failures are
// logged and yield an empty list.
func (m *Manager) ListTasks(ctx context.Context) []domain.Task {
	instances, err := m.store.ListInstances(ctx)
	if err != nil {
		log.Errorf("list tasks: %v", err)
		return []domain.Task{}
	}
	tasks := make([]domain.Task, 0, len(instances))
	for _, inst := range instances {
		tasks = append(tasks, inst.Task())
	}
	return tasks
}

// InitTasks pushes the stored roster to the worker.
func (m *Manager) InitTasks(ctx context.Context) {
	instances, err := m.store.ListInstances(ctx)
	if err != nil {
		log.Errorf("init tasks: %v", err)
		return
	}
	results := m.pusher.UpdateTasks(ctx, instances)
	log.Infof("roster pushed: %d tasks, %d results", len(instances), len(results))
}

// AddTask creates an instance for appID and pushes the new roster. The insert
// is rolled back unless the worker answers the push.
func (m *Manager) AddTask(ctx context.Context, appID string) (*db.Instance, error) {
	var created *db.Instance
	err := m.store.ExecTx(ctx, func(q *db.Queries) error {
		inst, err := q.CreateInstance(ctx, appID, domain.DefaultEnvID)
		if err != nil {
			return err
		}
		instances, err := q.ListInstances(ctx)
		if err != nil {
			return err
		}
		if m.pusher.UpdateTasks(ctx, instances) == nil {
			return ErrPushFailed
		}
		created = inst
		return nil
	})
	if err != nil {
		log.Errorf("add task %q: %v", appID, err)
		return nil, err
	}

	m.analytics.Publish(ctx, analytics.EventTaskAdded, map[string]any{
		"task_id": created.TaskID(),
		"app_id":  created.AppID,
	})
	m.lifecycle.Emit(lifecycle.EventTaskAdded, created.TaskID())
	return created, nil
}

// RemoveTask deletes the instance, its scoped configs and the plugins they
// reference, then pushes the remaining roster. It reports false, changing
// nothing, when taskID names no instance.
func (m *Manager) RemoveTask(ctx context.Context, taskID string) (bool, error) {
	id, err := strconv.ParseInt(taskID, 10, 64)
	if err != nil {
		return false, nil
	}

	var res db.CascadeResult
	err = m.store.ExecTx(ctx, func(q *db.Queries) error {
		res, err = q.DeleteInstanceCascade(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}
	if !res.InstanceDeleted {
		return false, nil
	}
	log.Infof("task %s removed (%d configs, %d plugins)", taskID, res.ConfigsDeleted, res.PluginsDeleted)

	if instances, err := m.store.ListInstances(ctx); err != nil {
		log.Warnf("push after remove: %v", err)
	} else if m.pusher.UpdateTasks(ctx, instances) == nil {
		log.Warnf("push after removing task %s got no response", taskID)
	}

	m.analytics.Publish(ctx, analytics.EventTaskRemoved, map[string]any{"task_id": taskID})
	m.lifecycle.Emit(lifecycle.EventTaskRemoved, taskID)
	return true, nil
}
