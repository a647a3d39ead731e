package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/replydesk/replydesk/internal/httputil"
	"github.com/replydesk/replydesk/internal/roster"
	"github.com/replydesk/replydesk/internal/svc"
	"github.com/replydesk/replydesk/internal/types"
)

func ListTasksHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, svcCtx.Roster.ListTasks(r.Context()))
	}
}

// AddTaskHandler creates an instance. Nothing is stored unless the worker
// accepts the new roster.
func AddTaskHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.AddTaskRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		appID := strings.TrimSpace(req.AppID)
		if appID == "" {
			httputil.Error(w, fmt.Errorf("%w: app_id is required", httputil.ErrBadRequest))
			return
		}

		inst, err := svcCtx.Roster.AddTask(r.Context(), appID)
		if errors.Is(err, roster.ErrPushFailed) {
			httputil.ErrorWithCode(w, http.StatusBadGateway, "worker did not accept the task")
			return
		}
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, inst.Task())
	}
}

func RemoveTaskHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.RemoveTaskRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		removed, err := svcCtx.Roster.RemoveTask(r.Context(), req.ID)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		if !removed {
			httputil.NotFound(w, "task not found")
			return
		}
		httputil.OkJSON(w, types.RemoveTaskResponse{Removed: true})
	}
}
