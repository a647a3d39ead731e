package msg

import (
	"net/http"
	"time"

	"github.com/replydesk/replydesk/internal/httputil"
	"github.com/replydesk/replydesk/internal/logic/message"
	"github.com/replydesk/replydesk/internal/svc"
	"github.com/replydesk/replydesk/internal/types"
)

// ListMessagesHandler returns the message log grouped by customer.
func ListMessagesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.MsgListRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}

		q := message.ListQuery{
			PlatformID: req.PlatformID,
			Keyword:    req.Keyword,
			Page:       req.Page,
			PageSize:   req.PageSize,
		}
		if req.StartTime > 0 {
			q.StartTime = time.UnixMilli(req.StartTime)
		}
		if req.EndTime > 0 {
			q.EndTime = time.UnixMilli(req.EndTime)
		}

		page, err := svcCtx.Messages.ListMessagesWithSessions(r.Context(), q)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.OkPage(w, page.Sessions, page.Total, page.Page, page.PageSize)
	}
}
