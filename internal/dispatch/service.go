// Package dispatch coordinates the controller and the worker: it serves the
// worker's reply and broadcast requests and drives the health, config and
// roster protocols.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/replydesk/replydesk/internal/analytics"
	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/domain"
	configlogic "github.com/replydesk/replydesk/internal/logic/config"
	"github.com/replydesk/replydesk/internal/logic/message"
	"github.com/replydesk/replydesk/internal/logging"
	"github.com/replydesk/replydesk/internal/metrics"
	"github.com/replydesk/replydesk/internal/notify"
	"github.com/replydesk/replydesk/internal/plugin"
	"github.com/replydesk/replydesk/internal/workerhub"
)

var log = logging.Named("dispatch")

// Worker-facing method names.
const (
	MethodBroadcast    = "messageService-broadcast"
	MethodGetMessages  = "messageService-getMessages"
	MethodHealth       = "systemService-health"
	MethodUpdateStatus = "strategyService-updateStatus"
	MethodUpdateTasks  = "strategyService-updateTasks"
	MethodGetAppsInfo  = "strategyService-getAppsInfo"
)

// EventKeyEsc is the broadcast event sent when the operator presses escape.
const EventKeyEsc = "key_esc"

// Bridge sends requests to the worker.
type Bridge interface {
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
}

// Notifier reaches the UI.
type Notifier interface {
	Broadcast(msgType string, data any)
}

// Publisher records analytics events.
type Publisher interface {
	Publish(ctx context.Context, name string, props map[string]any)
}

// Options wires a Service.
type Options struct {
	Bridge    Bridge
	Store     *db.Store
	Configs   *configlogic.Controller
	Messages  *message.Controller
	Engine    *plugin.Engine
	Notifier  Notifier
	Analytics Publisher

	// ReplyBudget bounds one plugin execution. Zero means 15s.
	ReplyBudget time.Duration
	// Sleep waits between retry attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Service struct {
	bridge    Bridge
	store     *db.Store
	configs   *configlogic.Controller
	messages  *message.Controller
	engine    *plugin.Engine
	notifier  Notifier
	analytics Publisher

	replyBudget time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Service {
	s := &Service{
		bridge:      opts.Bridge,
		store:       opts.Store,
		configs:     opts.Configs,
		messages:    opts.Messages,
		engine:      opts.Engine,
		notifier:    opts.Notifier,
		analytics:   opts.Analytics,
		replyBudget: opts.ReplyBudget,
		sleep:       opts.Sleep,
	}
	if s.replyBudget <= 0 {
		s.replyBudget = 15 * time.Second
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.analytics == nil {
		s.analytics = (*analytics.Sink)(nil)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(string, any) {}

// RegisterHandlers installs the worker-initiated methods on conn. The hub
// drops them with the connection.
func (s *Service) RegisterHandlers(conn *workerhub.Conn) {
	conn.Handle(MethodBroadcast, s.handleBroadcast)
	conn.Handle(MethodGetMessages, s.handleGetMessages)
	log.Infof("handlers registered on worker %s", conn.ID)
}

// BroadcastEnvelope is the worker's broadcast payload.
type BroadcastEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (s *Service) handleBroadcast(ctx context.Context, _ *workerhub.Conn, params json.RawMessage, res *workerhub.Responder) {
	var env BroadcastEnvelope
	if err := json.Unmarshal(params, &env); err != nil {
		res.Fail(errors.New("invalid broadcast envelope"))
		return
	}

	if env.Event == EventKeyEsc {
		changed, err := s.configs.EscKeyDownHandler(ctx)
		if err != nil {
			log.Errorf("escape pause: %v", err)
		}
		if changed {
			go s.SyncConfig(context.WithoutCancel(ctx))
			s.notifier.Broadcast(notify.TypeBroadcast, map[string]any{"event": notify.TypeHasPaused, "data": map[string]any{}})
		}
	} else {
		s.notifier.Broadcast(notify.TypeBroadcast, json.RawMessage(params))
	}

	res.OK(env)
}

// MessagesRequest is the worker's reply request.
type MessagesRequest struct {
	Ctx  domain.ConvContext      `json:"ctx"`
	Msgs []domain.InboundMessage `json:"msgs"`
}

func (s *Service) handleGetMessages(ctx context.Context, _ *workerhub.Conn, params json.RawMessage, res *workerhub.Responder) {
	var req MessagesRequest
	if err := json.Unmarshal(params, &req); err != nil {
		res.Fail(errors.New("invalid message request"))
		return
	}

	res.Detach(func() {
		reply := s.Reply(ctx, req.Ctx, req.Msgs)
		res.OK(reply)

		if reply.Type == domain.ReplyNone {
			return
		}
		if err := s.messages.SaveMessages(context.WithoutCancel(ctx), req.Ctx, reply, req.Msgs); err != nil {
			log.Errorf("save messages for %s: %v", req.Ctx.Get(domain.CtxUsername), err)
		}
	})
}

// Reply runs the reply pipeline for one batch. It never fails: any error in
// config resolution or plugin execution yields the config's default reply.
func (s *Service) Reply(ctx context.Context, conv domain.ConvContext, batch []domain.InboundMessage) domain.ReplyDTO {
	cfg, err := s.configs.Get(ctx, conv)
	if err != nil {
		log.Errorf("resolve config: %v", err)
		return s.fallback(ctx, nil, conv, err)
	}

	if _, err := s.messages.ExtractMsgInfo(ctx, cfg, conv, batch); err != nil {
		log.Warnf("extract message info: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.replyBudget)
	defer cancel()

	in := plugin.Input{Config: cfg, Ctx: conv, Messages: batch}
	source := "default"
	var reply domain.ReplyDTO
	if cfg.UsePlugin && cfg.PluginID.Valid && cfg.PluginID.Int64 != 0 {
		source = "plugin"
		reply, err = s.engine.Execute(runCtx, cfg.PluginID.Int64, in)
	} else {
		reply, err = s.engine.ExecuteDefault(runCtx, in)
	}
	if err != nil {
		metrics.IncPluginFailure()
		log.Errorf("%s reply failed, using default reply: %v", source, err)
		return s.fallback(ctx, cfg, conv, err)
	}

	metrics.IncReply(source, string(reply.Type))
	if reply.Type != domain.ReplyNone {
		s.analytics.Publish(ctx, analytics.EventReplySent, map[string]any{
			"source":      source,
			"type":        reply.Type,
			"platform_id": conv.Get(domain.CtxPlatformID),
		})
	}
	return reply
}

func (s *Service) fallback(ctx context.Context, cfg *db.Config, conv domain.ConvContext, cause error) domain.ReplyDTO {
	reply := s.messages.DefaultReply(cfg)
	metrics.IncReply("fallback", string(reply.Type))
	s.analytics.Publish(ctx, analytics.EventReplyFallback, map[string]any{
		"platform_id": conv.Get(domain.CtxPlatformID),
		"error":       cause.Error(),
	})
	return reply
}
