package handler

import (
	"net/http"
	"time"

	"github.com/replydesk/replydesk/internal/httputil"
	"github.com/replydesk/replydesk/internal/svc"
	"github.com/replydesk/replydesk/internal/types"
)

// HealthCheckHandler is the liveness probe. It answers without the API
// envelope.
func HealthCheckHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, &types.HealthResponse{
			Status:          "healthy",
			Version:         svcCtx.Version,
			Timestamp:       time.Now().UTC().Format(time.RFC3339),
			WorkerConnected: svcCtx.WorkerHub.IsConnected(),
			UIClients:       svcCtx.UIHub.ClientCount(),
		})
	}
}
