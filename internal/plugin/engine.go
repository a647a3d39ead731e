// Package plugin runs reply fragments: small Lua programs that read the
// conversation and return one reply decision.
//
// A fragment sees three globals:
//
//	ctx   conversation keys (platform_id, username, ...), all strings
//	msgs  array of {sender, content, role, type, timestamp}
//	host  read-only capabilities: config, keywords, transfers, replaces
//	      and the functions fold, random, replace_all, regex_find,
//	      regex_replace, gpt and log
//
// and must return a table {type = "TEXT"|"TRANSFER"|"NO_REPLY", content = "..."}
// with optional keyword and confidence fields.
package plugin

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/domain"
	"github.com/replydesk/replydesk/internal/logging"
)

//go:embed default.lua
var DefaultCode string

// ErrPluginNotFound is returned when a plugin id does not resolve.
var ErrPluginNotFound = errors.New("plugin not found")

// ExecutionError wraps any failure inside a fragment: syntax error, runtime
// error, panic, deadline overrun or a malformed return value.
type ExecutionError struct {
	PluginID int64 // 0 for inline code
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.PluginID == 0 {
		return "plugin execution: " + e.Err.Error()
	}
	return fmt.Sprintf("plugin %d execution: %v", e.PluginID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// PluginStore loads persisted fragments.
type PluginStore interface {
	GetPlugin(ctx context.Context, id int64) (*db.Plugin, error)
}

// Input is everything a fragment may read.
type Input struct {
	Config   *db.Config
	Ctx      domain.ConvContext
	Messages []domain.InboundMessage
}

// Engine executes fragments in a fresh sandboxed Lua state per call.
type Engine struct {
	plugins PluginStore
	host    *HostProvider
}

// NewEngine creates an engine. host may be nil, in which case fragments get an
// empty host table.
func NewEngine(plugins PluginStore, host *HostProvider) *Engine {
	return &Engine{plugins: plugins, host: host}
}

// Execute loads plugin id and runs it.
func (e *Engine) Execute(ctx context.Context, id int64, in Input) (domain.ReplyDTO, error) {
	p, err := e.plugins.GetPlugin(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return domain.ReplyDTO{}, fmt.Errorf("plugin %d: %w", id, ErrPluginNotFound)
		}
		return domain.ReplyDTO{}, err
	}
	reply, err := e.run(ctx, p.Code, in)
	if err != nil {
		return domain.ReplyDTO{}, &ExecutionError{PluginID: id, Err: err}
	}
	return reply, nil
}

// ExecuteCode runs an inline fragment, such as DefaultCode.
func (e *Engine) ExecuteCode(ctx context.Context, code string, in Input) (domain.ReplyDTO, error) {
	reply, err := e.run(ctx, code, in)
	if err != nil {
		return domain.ReplyDTO{}, &ExecutionError{Err: err}
	}
	return reply, nil
}

// ExecuteDefault runs the built-in fragment.
func (e *Engine) ExecuteDefault(ctx context.Context, in Input) (domain.ReplyDTO, error) {
	return e.ExecuteCode(ctx, DefaultCode, in)
}

func (e *Engine) run(ctx context.Context, code string, in Input) (reply domain.ReplyDTO, err error) {
	var data *HostData
	if e.host != nil {
		if data, err = e.host.Load(ctx, in); err != nil {
			return reply, fmt.Errorf("load host data: %w", err)
		}
	} else {
		data = &HostData{}
	}

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("[plugin] fragment panicked: %v", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	L.SetGlobal("ctx", ctxTable(L, in.Ctx))
	L.SetGlobal("msgs", messagesTable(L, in.Messages))
	L.SetGlobal("host", e.hostTable(ctx, L, data, in))

	fn, err := L.LoadString(code)
	if err != nil {
		return reply, err
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return reply, ctxErr
		}
		return reply, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return toReply(ret)
}

var blockedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module",
	"collectgarbage", "getfenv", "setfenv", "newproxy", "_printregs",
}

func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true, CallStackSize: 256})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		logging.Debugf("[plugin] %s", L.ToString(1))
		return 0
	}))
	return L
}

func ctxTable(L *lua.LState, c domain.ConvContext) *lua.LTable {
	t := L.NewTable()
	for k, v := range c {
		t.RawSetString(k, lua.LString(v))
	}
	return t
}

func messagesTable(L *lua.LState, msgs []domain.InboundMessage) *lua.LTable {
	t := L.CreateTable(len(msgs), 0)
	for _, m := range msgs {
		mt := L.CreateTable(0, 5)
		mt.RawSetString("sender", lua.LString(m.Sender))
		mt.RawSetString("content", lua.LString(m.Content))
		mt.RawSetString("role", lua.LString(m.Role))
		mt.RawSetString("type", lua.LString(m.Type))
		mt.RawSetString("timestamp", lua.LNumber(m.Timestamp))
		t.Append(mt)
	}
	return t
}

// toReply validates the value returned by a fragment.
func toReply(v lua.LValue) (domain.ReplyDTO, error) {
	t, ok := v.(*lua.LTable)
	if !ok {
		return domain.ReplyDTO{}, fmt.Errorf("fragment returned %s, want table", v.Type())
	}

	typ, ok := t.RawGetString("type").(lua.LString)
	if !ok || !domain.ReplyType(typ).Valid() {
		return domain.ReplyDTO{}, fmt.Errorf("invalid reply type %q", t.RawGetString("type").String())
	}
	reply := domain.ReplyDTO{Type: domain.ReplyType(typ)}

	switch c := t.RawGetString("content").(type) {
	case lua.LString:
		reply.Content = string(c)
	case *lua.LNilType:
		if reply.Type != domain.ReplyNone {
			return domain.ReplyDTO{}, errors.New("reply content missing")
		}
	default:
		return domain.ReplyDTO{}, fmt.Errorf("reply content is %s, want string", c.Type())
	}

	if kw, ok := t.RawGetString("keyword").(lua.LString); ok {
		reply.Keyword = string(kw)
	}
	if conf, ok := t.RawGetString("confidence").(lua.LNumber); ok {
		reply.Confidence = float64(conf)
	}
	return reply, nil
}
