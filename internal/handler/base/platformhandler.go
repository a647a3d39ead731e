package base

import (
	"net/http"

	"github.com/replydesk/replydesk/internal/httputil"
	"github.com/replydesk/replydesk/internal/svc"
	"github.com/replydesk/replydesk/internal/types"
)

// ListPlatformsHandler returns the worker's chat accounts. success is false
// when the worker reported none.
func ListPlatformsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		platforms := svcCtx.Dispatch.GetAllPlatforms(r.Context())
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{
			Success: len(platforms) > 0,
			Data:    platforms,
		})
	}
}

// GetPlatformSettingHandler has no per-platform settings to return yet.
func GetPlatformSettingHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, map[string]any{})
	}
}

func UpdatePlatformSettingHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.PlatformSettingRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.Ok(w)
	}
}
