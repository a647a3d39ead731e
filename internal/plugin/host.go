package plugin

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/text/width"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/domain"
	"github.com/replydesk/replydesk/internal/llm"
	"github.com/replydesk/replydesk/internal/logging"
)

// KeywordSource provides the rule tables a fragment can read.
type KeywordSource interface {
	KeywordsForPlatform(ctx context.Context, platformID string) ([]db.Keyword, error)
	ListTransferKeywords(ctx context.Context) ([]db.TransferKeyword, error)
	ListReplaceKeywords(ctx context.Context) ([]db.ReplaceKeyword, error)
}

// Completer is the LLM client used by host.gpt.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// HostProvider gathers per-execution data for the host table.
type HostProvider struct {
	keywords KeywordSource
	llm      Completer
}

func NewHostProvider(keywords KeywordSource, completer Completer) *HostProvider {
	return &HostProvider{keywords: keywords, llm: completer}
}

// HostData is the snapshot exposed to one execution.
type HostData struct {
	Keywords  []db.Keyword
	Transfers []db.TransferKeyword
	Replaces  []db.ReplaceKeyword
}

// Load reads the rule tables for the conversation's platform.
func (p *HostProvider) Load(ctx context.Context, in Input) (*HostData, error) {
	data := &HostData{}
	if p.keywords == nil {
		return data, nil
	}
	var err error
	if data.Keywords, err = p.keywords.KeywordsForPlatform(ctx, in.Ctx.Get(domain.CtxPlatformID)); err != nil {
		return nil, err
	}
	if data.Transfers, err = p.keywords.ListTransferKeywords(ctx); err != nil {
		return nil, err
	}
	if data.Replaces, err = p.keywords.ListReplaceKeywords(ctx); err != nil {
		return nil, err
	}
	return data, nil
}

// Fold normalizes text for matching: full-width to half-width, lower case, trimmed.
func Fold(s string) string {
	return strings.ToLower(strings.TrimSpace(width.Fold.String(s)))
}

func (e *Engine) hostTable(ctx context.Context, L *lua.LState, data *HostData, in Input) *lua.LTable {
	fields := L.NewTable()
	fields.RawSetString("config", configTable(L, in.Config))

	kws := L.CreateTable(len(data.Keywords), 0)
	for _, k := range data.Keywords {
		t := L.CreateTable(0, 4)
		t.RawSetString("keyword", lua.LString(k.Keyword))
		t.RawSetString("reply", lua.LString(k.Reply))
		t.RawSetString("mode", lua.LString(k.Mode))
		t.RawSetString("platform_id", lua.LString(k.PlatformID))
		kws.Append(t)
	}
	fields.RawSetString("keywords", kws)

	transfers := L.CreateTable(len(data.Transfers), 0)
	for _, k := range data.Transfers {
		t := L.CreateTable(0, 2)
		t.RawSetString("keyword", lua.LString(k.Keyword))
		t.RawSetString("regular", lua.LBool(k.HasRegular))
		transfers.Append(t)
	}
	fields.RawSetString("transfers", transfers)

	replaces := L.CreateTable(len(data.Replaces), 0)
	for _, k := range data.Replaces {
		t := L.CreateTable(0, 3)
		t.RawSetString("keyword", lua.LString(k.Keyword))
		t.RawSetString("replace", lua.LString(k.Replace))
		t.RawSetString("regular", lua.LBool(k.HasRegular))
		replaces.Append(t)
	}
	fields.RawSetString("replaces", replaces)

	fields.RawSetString("fold", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(Fold(L.CheckString(1))))
		return 1
	}))
	fields.RawSetString("random", L.NewFunction(func(L *lua.LState) int {
		n := L.CheckInt(1)
		if n < 1 {
			L.ArgError(1, "must be positive")
		}
		L.Push(lua.LNumber(rand.IntN(n) + 1))
		return 1
	}))
	fields.RawSetString("replace_all", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(strings.ReplaceAll(L.CheckString(1), L.CheckString(2), L.CheckString(3))))
		return 1
	}))
	fields.RawSetString("regex_find", L.NewFunction(func(L *lua.LState) int {
		re, err := regexp.Compile(L.CheckString(2))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LBool(re.MatchString(L.CheckString(1))))
		return 1
	}))
	fields.RawSetString("regex_replace", L.NewFunction(func(L *lua.LState) int {
		re, err := regexp.Compile(L.CheckString(2))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(re.ReplaceAllLiteralString(L.CheckString(1), L.CheckString(3))))
		return 1
	}))
	fields.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		logging.Infof("[plugin] %s", L.CheckString(1))
		return 0
	}))
	fields.RawSetString("gpt", L.NewFunction(func(L *lua.LState) int {
		out, err := e.gpt(ctx, in, L.OptString(1, ""))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(out))
		return 1
	}))

	return readOnly(L, fields)
}

// readOnly returns an empty proxy table whose reads fall through to fields and
// whose writes raise an error.
func readOnly(L *lua.LState, fields *lua.LTable) *lua.LTable {
	proxy := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", fields)
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("host is read-only")
		return 0
	}))
	mt.RawSetString("__metatable", lua.LFalse)
	L.SetMetatable(proxy, mt)
	return proxy
}

func configTable(L *lua.LState, c *db.Config) *lua.LTable {
	t := L.NewTable()
	if c == nil {
		return t
	}
	bools := map[string]bool{
		"has_paused":        c.HasPaused,
		"has_keyword_match": c.HasKeywordMatch,
		"has_use_gpt":       c.HasUseGPT,
		"has_transfer":      c.HasTransfer,
		"has_replace":       c.HasReplace,
		"has_mouse_close":   c.HasMouseClose,
		"has_esc_close":     c.HasEscClose,
		"use_plugin":        c.UsePlugin,
		"extract_phone":     c.ExtractPhone,
		"extract_product":   c.ExtractProduct,
		"stream":            c.Stream,
		"use_dify":          c.UseDify,
	}
	for k, v := range bools {
		t.RawSetString(k, lua.LBool(v))
	}
	t.RawSetString("id", lua.LNumber(c.ID))
	t.RawSetString("platform_id", lua.LString(c.PlatformID))
	t.RawSetString("instance_id", lua.LString(c.InstanceID))
	t.RawSetString("context_count", lua.LNumber(c.ContextCount))
	t.RawSetString("wait_humans_time", lua.LNumber(c.WaitHumansTime))
	t.RawSetString("reply_speed", lua.LNumber(c.ReplySpeed))
	t.RawSetString("reply_random_speed", lua.LNumber(c.ReplyRandomSpeed))
	t.RawSetString("default_reply", lua.LString(c.DefaultReply))
	t.RawSetString("gpt_model", lua.LString(c.GPTModel))
	return t
}

// gpt asks the configured model for a reply to the recent conversation. The
// optional prompt becomes the system message.
func (e *Engine) gpt(ctx context.Context, in Input, prompt string) (string, error) {
	if e.host == nil || e.host.llm == nil || in.Config == nil {
		return "", llm.ErrNotConfigured
	}
	c := in.Config

	history := in.Messages
	if n := int(c.ContextCount); n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	if prompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: prompt})
	}
	for _, m := range history {
		switch m.Role {
		case domain.RoleCustomer:
			msgs = append(msgs, llm.Message{Role: "user", Content: m.Content})
		case domain.RoleSelf:
			msgs = append(msgs, llm.Message{Role: "assistant", Content: m.Content})
		}
	}

	return e.host.llm.Complete(ctx, llm.CompletionRequest{
		Connection:  llm.Connection{BaseURL: c.GPTBaseURL, APIKey: c.GPTKey, Model: c.GPTModel},
		Temperature: c.GPTTemperature,
		TopP:        c.GPTTopP,
		Messages:    msgs,
	})
}
