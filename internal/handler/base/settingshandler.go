package base

import (
	"fmt"
	"net/http"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/httputil"
	"github.com/replydesk/replydesk/internal/notify"
	"github.com/replydesk/replydesk/internal/svc"
	"github.com/replydesk/replydesk/internal/types"
)

func toSettings(c *db.Config) types.Settings {
	return types.Settings{
		HasPaused:       c.HasPaused,
		HasKeywordMatch: c.HasKeywordMatch,
		HasUseGPT:       c.HasUseGPT,
		HasTransfer:     c.HasTransfer,
		HasReplace:      c.HasReplace,
		HasMouseClose:   c.HasMouseClose,
		HasEscClose:     c.HasEscClose,
		UsePlugin:       c.UsePlugin,
		PluginID:        c.PluginID.Int64,
		ExtractPhone:    c.ExtractPhone,
		ExtractProduct:  c.ExtractProduct,
		SavePath:        c.SavePath,
		DefaultReply:    c.DefaultReply,
		ReplySpeed:      []float64{c.ReplySpeed, c.ReplyRandomSpeed},
		ContextCount:    c.ContextCount,
		WaitHumansTime:  c.WaitHumansTime,
		GPTBaseURL:      c.GPTBaseURL,
		GPTKey:          c.GPTKey,
		GPTModel:        c.GPTModel,
		GPTTemperature:  c.GPTTemperature,
		GPTTopP:         c.GPTTopP,
		Stream:          c.Stream,
		UseDify:         c.UseDify,
	}
}

func toPatch(req types.UpdateSettingsRequest) (db.ConfigPatch, error) {
	patch := db.ConfigPatch{
		HasTransfer:    req.HasTransfer,
		HasReplace:     req.HasReplace,
		HasMouseClose:  req.HasMouseClose,
		HasEscClose:    req.HasEscClose,
		UsePlugin:      req.UsePlugin,
		PluginID:       req.PluginID,
		ExtractPhone:   req.ExtractPhone,
		ExtractProduct: req.ExtractProduct,
		SavePath:       req.SavePath,
		DefaultReply:   req.DefaultReply,
		ContextCount:   req.ContextCount,
		WaitHumansTime: req.WaitHumansTime,
		GPTBaseURL:     req.GPTBaseURL,
		GPTKey:         req.GPTKey,
		GPTModel:       req.GPTModel,
		GPTTemperature: req.GPTTemperature,
		GPTTopP:        req.GPTTopP,
		Stream:         req.Stream,
		UseDify:        req.UseDify,
	}
	if req.ReplySpeed != nil {
		if len(req.ReplySpeed) != 2 {
			return patch, fmt.Errorf("%w: reply_speed must be [base, random]", httputil.ErrBadRequest)
		}
		patch.ReplySpeed = &req.ReplySpeed[0]
		patch.ReplyRandomSpeed = &req.ReplySpeed[1]
	}
	if req.ContextCount != nil && *req.ContextCount < 0 {
		return patch, fmt.Errorf("%w: context_count must not be negative", httputil.ErrBadRequest)
	}
	return patch, nil
}

// GetSettingsHandler returns the global config.
func GetSettingsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := svcCtx.Configs.GetConfig(r.Context())
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, toSettings(cfg))
	}
}

// UpdateSettingsHandler patches the global config and asks open UIs to reload it.
func UpdateSettingsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.UpdateSettingsRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		patch, err := toPatch(req)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		cfg, err := svcCtx.Configs.UpdateGlobal(r.Context(), patch)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		svcCtx.UIHub.Broadcast(notify.TypeRefreshConfig, nil)
		httputil.OkJSON(w, toSettings(cfg))
	}
}
