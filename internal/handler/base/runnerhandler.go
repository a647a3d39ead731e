package base

import (
	"net/http"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/domain"
	"github.com/replydesk/replydesk/internal/httputil"
	"github.com/replydesk/replydesk/internal/logging"
	"github.com/replydesk/replydesk/internal/svc"
	"github.com/replydesk/replydesk/internal/types"
)

// RunnerHandler pauses or resumes the worker and toggles keyword and GPT
// replies. The paused flag is stored first so the periodic sync agrees with
// the pushed status.
func RunnerHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.RunnerRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		ctx := r.Context()

		if _, err := svcCtx.Configs.SetPaused(ctx, req.IsPaused); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.IsKeywordMatch != nil || req.IsUseGPT != nil {
			patch := db.ConfigPatch{HasKeywordMatch: req.IsKeywordMatch, HasUseGPT: req.IsUseGPT}
			if _, err := svcCtx.Configs.UpdateGlobal(ctx, patch); err != nil {
				httputil.Error(w, err)
				return
			}
		}

		status := domain.StatusRunning
		if req.IsPaused {
			status = domain.StatusStopped
		}
		if err := svcCtx.Dispatch.UpdateStatus(ctx, status); err != nil {
			logging.Warnf("[runner] push %s: %v", status, err)
			httputil.Error(w, err)
			return
		}
		httputil.Ok(w)
	}
}
