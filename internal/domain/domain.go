// Package domain holds the wire-level types shared by the controller and the worker.
package domain

import (
	"bytes"
	"encoding/json"
)

// ReplyType classifies a reply decision.
type ReplyType string

const (
	ReplyText     ReplyType = "TEXT"
	ReplyTransfer ReplyType = "TRANSFER"
	// ReplyNone suppresses both sending and message logging.
	ReplyNone ReplyType = "NO_REPLY"
)

// Valid reports whether t is a known reply type.
func (t ReplyType) Valid() bool {
	switch t {
	case ReplyText, ReplyTransfer, ReplyNone:
		return true
	}
	return false
}

// ReplyDTO is the outcome of the reply pipeline sent back to the worker.
type ReplyDTO struct {
	Type       ReplyType `json:"type"`
	Content    string    `json:"content"`
	Keyword    string    `json:"keyword,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

// NoReply returns the sentinel reply.
func NoReply() ReplyDTO {
	return ReplyDTO{Type: ReplyNone}
}

// Message roles and types as sent by the worker.
const (
	RoleCustomer = "OTHER"
	RoleSelf     = "SELF"
	RoleSystem   = "SYS"

	MsgTypeText    = "text"
	MsgTypeProduct = "product"
	MsgTypeImage   = "image"
)

// InboundMessage is one chat message accumulated by the worker since the last reply.
type InboundMessage struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Role      string `json:"role"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Conversation context keys used by the worker.
const (
	CtxPlatformID   = "platform_id"
	CtxInstanceID   = "instance_id"
	CtxAppID        = "app_id"
	CtxUsername     = "username"
	CtxHistoryCount = "history_count"
)

// ConvContext maps conversation-scoped keys to values.
type ConvContext map[string]string

// UnmarshalJSON accepts any scalar value. Numbers and booleans keep their
// JSON text, nested values are kept as raw JSON and nulls are dropped.
func (c *ConvContext) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*c = nil
		return nil
	}
	out := make(ConvContext, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		switch {
		case bytes.Equal(v, []byte("null")):
		case len(v) > 0 && v[0] == '"':
			var str string
			if err := json.Unmarshal(v, &str); err != nil {
				return err
			}
			out[k] = str
		default:
			out[k] = string(v)
		}
	}
	*c = out
	return nil
}

// Get returns the value for key, or "" when absent.
func (c ConvContext) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// StrategyStatus gates whether the worker answers incoming messages.
type StrategyStatus string

const (
	StatusRunning StrategyStatus = "RUNNING"
	StatusStopped StrategyStatus = "STOPPED"
)

// Platform is the worker's view of one connected chat account.
type Platform struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Impl   string `json:"impl,omitempty"`
	Status string `json:"status"`
}

// Task is the worker-side descriptor of one managed instance.
type Task struct {
	TaskID string `json:"task_id"`
	AppID  string `json:"app_id"`
	EnvID  string `json:"env_id"`
}

// TaskResult is the worker's per-task answer to a roster push.
type TaskResult struct {
	TaskID string `json:"task_id"`
	EnvID  string `json:"env_id"`
	Error  string `json:"error,omitempty"`
}

// DefaultEnvID is assigned to instances created without an environment.
const DefaultEnvID = "development"
