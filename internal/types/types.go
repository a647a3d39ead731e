package types

import "github.com/replydesk/replydesk/internal/logic/keyword"

type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Timestamp       string `json:"timestamp"`
	WorkerConnected bool   `json:"workerConnected"`
	UIClients       int    `json:"uiClients"`
}

// Messages

type MsgListRequest struct {
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
	PlatformID string `form:"platform_id"`
	Keyword    string `form:"keyword"`
	// Unix milliseconds; zero means unbounded.
	StartTime int64 `form:"start_time"`
	EndTime   int64 `form:"end_time"`
}

// Base

type PlatformSettingRequest struct {
	PlatformID string         `json:"platformId"`
	Settings   map[string]any `json:"settings"`
}

type RunnerRequest struct {
	IsPaused       bool  `json:"is_paused"`
	IsKeywordMatch *bool `json:"is_keyword_match"`
	IsUseGPT       *bool `json:"is_use_gpt"`
}

// Settings is the global config as the settings page sees it. ReplySpeed is
// [base, random] in seconds.
type Settings struct {
	HasPaused       bool  `json:"has_paused"`
	HasKeywordMatch bool  `json:"has_keyword_match"`
	HasUseGPT       bool  `json:"has_use_gpt"`
	HasTransfer     bool  `json:"has_transfer"`
	HasReplace      bool  `json:"has_replace"`
	HasMouseClose   bool  `json:"has_mouse_close"`
	HasEscClose     bool  `json:"has_esc_close"`
	UsePlugin       bool  `json:"use_plugin"`
	PluginID        int64 `json:"plugin_id,omitempty"`

	ExtractPhone   bool      `json:"extract_phone"`
	ExtractProduct bool      `json:"extract_product"`
	SavePath       string    `json:"save_path"`
	DefaultReply   string    `json:"default_reply"`
	ReplySpeed     []float64 `json:"reply_speed"`
	ContextCount   int64     `json:"context_count"`
	WaitHumansTime int64     `json:"wait_humans_time"`

	GPTBaseURL     string  `json:"gpt_base_url"`
	GPTKey         string  `json:"gpt_key"`
	GPTModel       string  `json:"gpt_model"`
	GPTTemperature float64 `json:"gpt_temperature"`
	GPTTopP        float64 `json:"gpt_top_p"`
	Stream         bool    `json:"stream"`
	UseDify        bool    `json:"use_dify"`
}

// UpdateSettingsRequest patches the global config; absent fields are kept.
type UpdateSettingsRequest struct {
	HasTransfer   *bool  `json:"has_transfer"`
	HasReplace    *bool  `json:"has_replace"`
	HasMouseClose *bool  `json:"has_mouse_close"`
	HasEscClose   *bool  `json:"has_esc_close"`
	UsePlugin     *bool  `json:"use_plugin"`
	PluginID      *int64 `json:"plugin_id"`

	ExtractPhone   *bool     `json:"extract_phone"`
	ExtractProduct *bool     `json:"extract_product"`
	SavePath       *string   `json:"save_path"`
	DefaultReply   *string   `json:"default_reply"`
	ReplySpeed     []float64 `json:"reply_speed"`
	ContextCount   *int64    `json:"context_count"`
	WaitHumansTime *int64    `json:"wait_humans_time"`

	GPTBaseURL     *string  `json:"gpt_base_url"`
	GPTKey         *string  `json:"gpt_key"`
	GPTModel       *string  `json:"gpt_model"`
	GPTTemperature *float64 `json:"gpt_temperature"`
	GPTTopP        *float64 `json:"gpt_top_p"`
	Stream         *bool    `json:"stream"`
	UseDify        *bool    `json:"use_dify"`
}

type SyncResponse struct {
	Synced bool `json:"synced"`
}

type GPTHealthRequest struct {
	BaseURL string `form:"base_url"`
	Key     string `form:"key"`
	Model   string `form:"model"`
	UseDify bool   `form:"use_dify"`
}

type GPTHealthResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

// Reply rules

type ReplyListRequest struct {
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
	PlatformID string `form:"ptf_id"`
	Keyword    string `form:"keyword"`
}

type ReplyItem struct {
	ID         int64  `json:"id"`
	PlatformID string `json:"platform_id"`
	Keyword    string `json:"keyword"`
	Reply      string `json:"reply"`
	Mode       string `json:"mode"`
	PtfName    string `json:"ptf_name"`
}

type ReplyUpdateRequest struct {
	ID int64 `json:"id"`
	keyword.Rule
}

// ReplyDeleteRequest accepts a single id or a list.
type ReplyDeleteRequest struct {
	ID  int64   `json:"id"`
	IDs []int64 `json:"ids"`
}

type ReplyDeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

type ReplyImportRequest struct {
	Path       string `json:"path"`
	PlatformID string `json:"platform_id"`
}

type ReplyExportRequest struct {
	PlatformID string `form:"ptf_id"`
}

// Tasks

type AddTaskRequest struct {
	AppID string `json:"app_id"`
}

type RemoveTaskRequest struct {
	ID string `path:"id"`
}

type RemoveTaskResponse struct {
	Removed bool `json:"removed"`
}
