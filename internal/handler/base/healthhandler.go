package base

import (
	"net/http"

	"github.com/replydesk/replydesk/internal/httputil"
	"github.com/replydesk/replydesk/internal/llm"
	"github.com/replydesk/replydesk/internal/svc"
	"github.com/replydesk/replydesk/internal/types"
)

// WorkerHealthHandler reports the worker's own health verdict.
func WorkerHealthHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy := svcCtx.Dispatch.CheckHealth(r.Context())
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Success: healthy, Data: healthy})
	}
}

// GPTHealthHandler probes the endpoint given in the query, not the stored one,
// so the settings page can test values before saving them.
func GPTHealthHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GPTHealthRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		conn := llm.Connection{BaseURL: req.BaseURL, APIKey: req.Key, Model: req.Model}

		var err error
		if req.UseDify {
			err = svcCtx.LLM.ProbeDify(r.Context(), conn)
		} else {
			err = svcCtx.LLM.Probe(r.Context(), conn)
		}
		resp := types.GPTHealthResponse{Status: err == nil, Message: "ok"}
		if err != nil {
			resp.Message = err.Error()
		}
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Success: resp.Status, Data: resp})
	}
}

// SyncHandler pushes the stored run state and roster to the worker now.
func SyncHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		synced := svcCtx.Dispatch.SyncConfig(r.Context())
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{
			Success: synced,
			Data:    types.SyncResponse{Synced: synced},
		})
	}
}
