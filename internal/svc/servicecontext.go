package svc

import (
	"context"
	"time"

	"github.com/replydesk/replydesk/internal/analytics"
	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/dispatch"
	"github.com/replydesk/replydesk/internal/lifecycle"
	"github.com/replydesk/replydesk/internal/llm"
	configlogic "github.com/replydesk/replydesk/internal/logic/config"
	"github.com/replydesk/replydesk/internal/logic/keyword"
	"github.com/replydesk/replydesk/internal/logic/message"
	"github.com/replydesk/replydesk/internal/logging"
	"github.com/replydesk/replydesk/internal/middleware"
	"github.com/replydesk/replydesk/internal/notify"
	"github.com/replydesk/replydesk/internal/plugin"
	"github.com/replydesk/replydesk/internal/roster"
	"github.com/replydesk/replydesk/internal/workerhub"
)

// LLMTimeout bounds completions and reachability probes.
const LLMTimeout = 30 * time.Second

type ServiceContext struct {
	Config    config.Config
	Version   string
	DB        *db.Store
	Lifecycle *lifecycle.Manager

	WorkerHub *workerhub.Hub
	UIHub     *notify.Hub

	Configs  *configlogic.Controller
	Messages *message.Controller
	Keywords *keyword.Controller

	LLM    *llm.Client
	Engine *plugin.Engine
	Loader *plugin.Loader
	Events *analytics.Sink

	Dispatch *dispatch.Service
	Roster   *roster.Manager
}

// NewServiceContext wires every component over an open store.
func NewServiceContext(c config.Config, store *db.Store) *ServiceContext {
	lc := lifecycle.NewManager()
	checkOrigin := middleware.OriginChecker(c.Server.AllowedOrigins)

	hub := workerhub.New(workerhub.Options{
		DefaultTimeout: c.Worker.DefaultCallTimeout,
		CheckOrigin:    checkOrigin,
		Lifecycle:      lc,
	})
	ui := notify.NewHub(checkOrigin)
	events := analytics.New(c.Analytics)
	llmClient := llm.NewClient(LLMTimeout)

	configs := configlogic.NewController(store)
	messages := message.NewController(store)
	keywords := keyword.NewController(store)
	engine := plugin.NewEngine(store, plugin.NewHostProvider(store, llmClient))

	dispatcher := dispatch.New(dispatch.Options{
		Bridge:      hub,
		Store:       store,
		Configs:     configs,
		Messages:    messages,
		Engine:      engine,
		Notifier:    ui,
		Analytics:   events,
		ReplyBudget: c.Worker.ReplyBudget,
	})

	svc := &ServiceContext{
		Config:    c,
		DB:        store,
		Lifecycle: lc,
		WorkerHub: hub,
		UIHub:     ui,
		Configs:   configs,
		Messages:  messages,
		Keywords:  keywords,
		LLM:       llmClient,
		Engine:    engine,
		Loader:    plugin.NewLoader(c.Plugins.Dir, store),
		Events:    events,
		Dispatch:  dispatcher,
		Roster:    roster.NewManager(store, dispatcher, events).WithLifecycle(lc),
	}

	hub.OnConnect(dispatcher.RegisterHandlers)
	lc.OnWorkerConnected(func(connID string) {
		// Runs on the hub loop; the pushes wait for the worker's answers.
		go svc.onWorkerConnected(context.Background(), connID)
	})
	lc.OnWorkerDisconnected(func(connID string) {
		logging.Warnf("[svc] worker %s disconnected", connID)
	})
	svc.Loader.OnChange(func(name string, id int64) {
		logging.Infof("[svc] plugin %s reloaded (id=%d)", name, id)
		ui.Broadcast(notify.TypeRefreshConfig, map[string]any{"plugin": name})
	})
	return svc
}

func (svc *ServiceContext) onWorkerConnected(ctx context.Context, connID string) {
	logging.Infof("[svc] worker %s connected, pushing roster and config", connID)
	svc.Roster.InitTasks(ctx)
	svc.Dispatch.SyncConfig(ctx)
}

// Start seeds the database, imports the plugin directory and starts the
// worker hub. It returns once startup work is done; the hub and watcher run
// until ctx is cancelled.
func (svc *ServiceContext) Start(ctx context.Context) error {
	if err := svc.DB.Seed(ctx); err != nil {
		return err
	}
	if err := svc.Loader.LoadAll(ctx); err != nil {
		logging.Warnf("[svc] plugin import: %v", err)
	}
	if svc.Config.Plugins.Watch {
		if err := svc.Loader.Watch(ctx); err != nil {
			logging.Warnf("[svc] plugin watch disabled: %v", err)
		}
	}
	go svc.WorkerHub.Run(ctx)
	return nil
}

// Close releases everything Start acquired. The store belongs to the caller.
func (svc *ServiceContext) Close() {
	svc.Loader.Stop()
	svc.UIHub.Close()
	if err := svc.Events.Close(); err != nil {
		logging.Warnf("[svc] analytics close: %v", err)
	}
}
