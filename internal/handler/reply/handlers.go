package reply

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/replydesk/replydesk/internal/httputil"
	"github.com/replydesk/replydesk/internal/logging"
	"github.com/replydesk/replydesk/internal/logic/keyword"
	"github.com/replydesk/replydesk/internal/svc"
	"github.com/replydesk/replydesk/internal/types"
)

// GlobalPlatformName labels rules that apply to every platform.
const GlobalPlatformName = "全局"

const maxUploadBytes = 10 << 20

// ListRepliesHandler returns a page of keyword rules with platform names.
func ListRepliesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ReplyListRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		ctx := r.Context()

		page, err := svcCtx.Keywords.List(ctx, keyword.Query{
			PlatformID: req.PlatformID,
			Search:     req.Keyword,
			Page:       req.Page,
			PageSize:   req.PageSize,
		})
		if err != nil {
			httputil.Error(w, err)
			return
		}

		// Names come from the worker; without one every rule shows its raw id.
		names := make(map[string]string)
		if svcCtx.WorkerHub.IsConnected() {
			for _, p := range svcCtx.Dispatch.GetAllPlatforms(ctx) {
				names[strconv.FormatInt(p.ID, 10)] = p.Name
			}
		}

		items := make([]types.ReplyItem, 0, len(page.List))
		for _, k := range page.List {
			name := GlobalPlatformName
			if k.PlatformID != "" {
				name = names[k.PlatformID]
				if name == "" {
					name = k.PlatformID
				}
			}
			items = append(items, types.ReplyItem{
				ID:         k.ID,
				PlatformID: k.PlatformID,
				Keyword:    k.Keyword,
				Reply:      k.Reply,
				Mode:       k.Mode,
				PtfName:    name,
			})
		}
		httputil.OkPage(w, items, page.Total, page.Page, page.PageSize)
	}
}

func CreateReplyHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req keyword.Rule
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		created, err := svcCtx.Keywords.Create(r.Context(), req)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, created)
	}
}

func UpdateReplyHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ReplyUpdateRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.ID <= 0 {
			httputil.Error(w, fmt.Errorf("%w: id is required", httputil.ErrBadRequest))
			return
		}
		if err := svcCtx.Keywords.Update(r.Context(), req.ID, req.Rule); err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.Ok(w)
	}
}

func DeleteReplyHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ReplyDeleteRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		ids := req.IDs
		if req.ID > 0 {
			ids = append(ids, req.ID)
		}
		if len(ids) == 0 {
			httputil.Error(w, fmt.Errorf("%w: id is required", httputil.ErrBadRequest))
			return
		}
		n, err := svcCtx.Keywords.Delete(r.Context(), ids)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, types.ReplyDeleteResponse{Deleted: n})
	}
}

// ImportRepliesHandler reads rules from an uploaded workbook (multipart field
// "file") or from a path on this machine ({"path": ...}).
func ImportRepliesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			src        io.ReadCloser
			platformID string
		)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
				httputil.Error(w, fmt.Errorf("%w: %v", httputil.ErrBadRequest, err))
				return
			}
			f, _, err := r.FormFile("file")
			if err != nil {
				httputil.Error(w, fmt.Errorf("%w: file is required", httputil.ErrBadRequest))
				return
			}
			src = f
			platformID = r.FormValue("platform_id")
		} else {
			var req types.ReplyImportRequest
			if err := httputil.Parse(r, &req); err != nil {
				httputil.Error(w, err)
				return
			}
			if req.Path == "" {
				httputil.Error(w, fmt.Errorf("%w: path is required", httputil.ErrBadRequest))
				return
			}
			f, err := os.Open(req.Path)
			if err != nil {
				httputil.Error(w, fmt.Errorf("%w: cannot open %s", httputil.ErrBadRequest, req.Path))
				return
			}
			src = f
			platformID = req.PlatformID
		}
		defer src.Close()

		res, err := svcCtx.Keywords.Import(r.Context(), src, platformID)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		logging.Infof("[reply] imported %d rules, skipped %d", res.Imported, res.Skipped)
		httputil.OkJSON(w, res)
	}
}

// ExportRepliesHandler streams the rules as an xlsx download.
func ExportRepliesHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ReplyExportRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		var buf bytes.Buffer
		if err := svcCtx.Keywords.Export(r.Context(), req.PlatformID, &buf); err != nil {
			httputil.Error(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="keywords-%s.xlsx"`, exportStamp(req.PlatformID)))
		w.WriteHeader(http.StatusOK)
		if _, err := buf.WriteTo(w); err != nil {
			logging.Warnf("[reply] export write: %v", err)
		}
	}
}

func exportStamp(platformID string) string {
	if platformID == "" {
		return "all"
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, platformID)
}

