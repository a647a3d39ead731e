package roster

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/db/migrations"
	"github.com/replydesk/replydesk/internal/domain"
	"github.com/replydesk/replydesk/internal/lifecycle"
	"github.com/replydesk/replydesk/internal/logging"
)

type fakePusher struct {
	mu     sync.Mutex
	pushes [][]domain.Task
	fail   bool
}

func (p *fakePusher) UpdateTasks(_ context.Context, instances []db.Instance) []domain.TaskResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	tasks := make([]domain.Task, 0, len(instances))
	results := make([]domain.TaskResult, 0, len(instances))
	for _, inst := range instances {
		tasks = append(tasks, inst.Task())
		results = append(results, domain.TaskResult{TaskID: inst.TaskID(), EnvID: inst.EnvID})
	}
	p.pushes = append(p.pushes, tasks)
	if p.fail {
		return nil
	}
	return results
}

func (p *fakePusher) last() []domain.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pushes) == 0 {
		return nil
	}
	return p.pushes[len(p.pushes)-1]
}

// gatedPusher holds every push until release is closed.
type gatedPusher struct {
	fakePusher
	entered chan struct{}
	release chan struct{}
}

func (p *gatedPusher) UpdateTasks(ctx context.Context, instances []db.Instance) []domain.TaskResult {
	p.entered <- struct{}{}
	<-p.release
	return p.fakePusher.UpdateTasks(ctx, instances)
}

type recordingPublisher struct {
	events []string
}

func (r *recordingPublisher) Publish(_ context.Context, name string, _ map[string]any) {
	r.events = append(r.events, name)
}

func newManager(t *testing.T) (*Manager, *db.Store, *fakePusher, *recordingPublisher) {
	t.Helper()
	logging.Disable()
	migrations.QuietMode = true
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "roster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Seed(context.Background()))

	pusher := &fakePusher{}
	pub := &recordingPublisher{}
	return NewManager(store, pusher, pub), store, pusher, pub
}

func TestListTasksEmpty(t *testing.T) {
	m, _, _, _ := newManager(t)
	tasks := m.ListTasks(context.Background())
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func TestAddTaskPushesRosterIncludingNewInstance(t *testing.T) {
	m, _, pusher, pub := newManager(t)
	ctx := context.Background()

	first, err := m.AddTask(ctx, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultEnvID, first.EnvID)

	second, err := m.AddTask(ctx, "shop-2")
	require.NoError(t, err)

	assert.Equal(t, []domain.Task{
		{TaskID: first.TaskID(), AppID: "shop-1", EnvID: domain.DefaultEnvID},
		{TaskID: second.TaskID(), AppID: "shop-2", EnvID: domain.DefaultEnvID},
	}, pusher.last())
	assert.Len(t, m.ListTasks(ctx), 2)
	assert.Equal(t, []string{"task_added", "task_added"}, pub.events)
}

func TestAddTaskRollsBackWithoutResponse(t *testing.T) {
	m, store, pusher, pub := newManager(t)
	ctx := context.Background()
	pusher.fail = true

	inst, err := m.AddTask(ctx, "shop-1")
	assert.ErrorIs(t, err, ErrPushFailed)
	assert.Nil(t, inst)

	instances, err := store.ListInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, instances)
	assert.Empty(t, pub.events)

	// The attempted roster carried the uncommitted instance.
	require.Len(t, pusher.last(), 1)
	assert.Equal(t, "shop-1", pusher.last()[0].AppID)
}

func TestRemoveTaskCascades(t *testing.T) {
	m, store, pusher, pub := newManager(t)
	ctx := context.Background()

	keep, err := m.AddTask(ctx, "shop-1")
	require.NoError(t, err)
	drop, err := m.AddTask(ctx, "shop-2")
	require.NoError(t, err)

	p, err := store.UpsertPlugin(ctx, "shop-2", "2.0.0", "return {}")
	require.NoError(t, err)
	cfg, err := store.CreateConfig(ctx, db.ConfigScope{InstanceID: drop.TaskID()})
	require.NoError(t, err)
	_, err = store.UpdateConfig(ctx, cfg.ID, db.ConfigPatch{PluginID: &p.ID})
	require.NoError(t, err)

	removed, err := m.RemoveTask(ctx, drop.TaskID())
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = store.GetConfigByID(ctx, cfg.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
	_, err = store.GetPlugin(ctx, p.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	assert.Equal(t, []domain.Task{keep.Task()}, pusher.last())
	assert.Equal(t, "task_removed", pub.events[len(pub.events)-1])
}

func TestRemoveTaskUnknown(t *testing.T) {
	m, _, pusher, _ := newManager(t)
	ctx := context.Background()

	_, err := m.AddTask(ctx, "shop-1")
	require.NoError(t, err)
	pushes := len(pusher.pushes)

	for _, id := range []string{"999", "abc", ""} {
		removed, err := m.RemoveTask(ctx, id)
		require.NoError(t, err)
		assert.False(t, removed, id)
	}
	assert.Len(t, pusher.pushes, pushes)
	assert.Len(t, m.ListTasks(ctx), 1)
}

func TestRemoveTaskSucceedsWhenPushFails(t *testing.T) {
	m, store, pusher, _ := newManager(t)
	ctx := context.Background()

	inst, err := m.AddTask(ctx, "shop-1")
	require.NoError(t, err)
	pusher.fail = true

	removed, err := m.RemoveTask(ctx, inst.TaskID())
	require.NoError(t, err)
	assert.True(t, removed)

	instances, err := store.ListInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestInitTasksPushesStoredRoster(t *testing.T) {
	m, store, pusher, _ := newManager(t)
	ctx := context.Background()

	_, err := store.CreateInstance(ctx, "shop-1", "")
	require.NoError(t, err)
	m.InitTasks(ctx)
	require.Len(t, pusher.last(), 1)
	assert.Equal(t, "shop-1", pusher.last()[0].AppID)
}

func TestRosterEmitsLifecycleHooks(t *testing.T) {
	m, _, _, _ := newManager(t)
	ctx := context.Background()

	lc := lifecycle.NewManager()
	var got []string
	lc.On(lifecycle.EventTaskAdded, func(e lifecycle.Event, data any) { got = append(got, string(e)+":"+data.(string)) })
	lc.On(lifecycle.EventTaskRemoved, func(e lifecycle.Event, data any) { got = append(got, string(e)+":"+data.(string)) })
	m.WithLifecycle(lc)

	inst, err := m.AddTask(ctx, "shop-1")
	require.NoError(t, err)
	_, err = m.RemoveTask(ctx, inst.TaskID())
	require.NoError(t, err)

	assert.Equal(t, []string{"task_added:" + inst.TaskID(), "task_removed:" + inst.TaskID()}, got)
}

func TestStoreReadableWhilePushInFlight(t *testing.T) {
	_, store, _, _ := newManager(t)
	pusher := &gatedPusher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewManager(store, pusher, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := m.AddTask(ctx, "shop-1")
		done <- err
	}()
	<-pusher.entered

	readCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	global, err := store.GetGlobalConfig(readCtx)
	require.NoError(t, err)
	assert.NotNil(t, global)
	assert.Empty(t, m.ListTasks(readCtx))

	close(pusher.release)
	require.NoError(t, <-done)
	assert.Len(t, m.ListTasks(ctx), 1)
}
