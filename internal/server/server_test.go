package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/db/migrations"
	"github.com/replydesk/replydesk/internal/domain"
	"github.com/replydesk/replydesk/internal/logging"
	"github.com/replydesk/replydesk/internal/svc"
	"github.com/replydesk/replydesk/internal/types"
	"github.com/replydesk/replydesk/internal/workerhub"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Total   *int64          `json:"total"`
}

type testServer struct {
	svc *svc.ServiceContext
	url string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logging.Disable()
	migrations.QuietMode = true

	dir := t.TempDir()
	store, err := db.NewSQLite(filepath.Join(dir, "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := config.Config{
		Database: config.DatabaseConfig{SQLitePath: filepath.Join(dir, "server.db")},
		Worker:   config.WorkerConfig{DefaultCallTimeout: 2 * time.Second, ReplyBudget: 2 * time.Second},
		Plugins:  config.PluginsConfig{Dir: filepath.Join(dir, "plugins")},
	}
	svcCtx := svc.NewServiceContext(c, store)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svcCtx.Start(ctx))

	srv := httptest.NewServer(NewRouter(svcCtx, ServerOptions{Quiet: true}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		svcCtx.Close()
	})
	return &testServer{svc: svcCtx, url: srv.URL}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.url+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// fakeWorker answers every controller request the way the automation worker does.
type fakeWorker struct {
	mu       sync.Mutex
	methods  []string
	statuses []string
}

func (f *fakeWorker) seen(method string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.methods {
		if m == method {
			return true
		}
	}
	return false
}

func (f *fakeWorker) lastStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

func (s *testServer) attachWorker(t *testing.T) *fakeWorker {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/ws/worker", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	f := &fakeWorker{}
	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var frame workerhub.Frame
			if json.Unmarshal(data, &frame) != nil || frame.Type != "req" {
				continue
			}
			f.mu.Lock()
			f.methods = append(f.methods, frame.Method)
			f.mu.Unlock()

			var payload any = true
			switch frame.Method {
			case "strategyService-updateTasks":
				var p struct {
					Tasks []domain.Task `json:"tasks"`
				}
				json.Unmarshal(frame.Params, &p)
				results := []domain.TaskResult{}
				for _, task := range p.Tasks {
					results = append(results, domain.TaskResult{TaskID: task.TaskID, EnvID: task.EnvID})
				}
				payload = results
			case "strategyService-updateStatus":
				var p struct {
					Status string `json:"status"`
				}
				json.Unmarshal(frame.Params, &p)
				f.mu.Lock()
				f.statuses = append(f.statuses, p.Status)
				f.mu.Unlock()
			case "strategyService-getAppsInfo":
				payload = []domain.Platform{{ID: 1, Name: "拼多多", Status: "online"}}
			}
			raw, _ := json.Marshal(payload)
			out, _ := json.Marshal(&workerhub.Frame{Type: "res", ID: frame.ID, OK: true, Payload: raw})
			if ws.WriteMessage(websocket.TextMessage, out) != nil {
				return
			}
		}
	}()

	require.Eventually(t, s.svc.WorkerHub.IsConnected, time.Second, 5*time.Millisecond)
	// The connect hook pushes the roster and the config.
	require.Eventually(t, func() bool {
		return f.seen("strategyService-updateTasks") && f.seen("strategyService-updateStatus")
	}, 2*time.Second, 10*time.Millisecond)
	return f
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health types.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.False(t, health.WorkerConnected)

	resp2, err := http.Get(s.url + "/metrics")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/api/v1/base/settings", nil)
	require.Equal(t, http.StatusOK, code)
	var settings types.Settings
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.Len(t, settings.ReplySpeed, 2)

	code, env = s.do(t, http.MethodPost, "/api/v1/base/settings", map[string]any{
		"reply_speed":   []float64{2, 3},
		"default_reply": "稍等一下哦",
		"context_count": 3,
	})
	require.Equal(t, http.StatusOK, code, env.Message)

	_, env = s.do(t, http.MethodGet, "/api/v1/base/settings", nil)
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.Equal(t, []float64{2, 3}, settings.ReplySpeed)
	assert.Equal(t, "稍等一下哦", settings.DefaultReply)
	assert.EqualValues(t, 3, settings.ContextCount)

	code, env = s.do(t, http.MethodPost, "/api/v1/base/settings", map[string]any{"reply_speed": []float64{1}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "reply_speed")
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Post(s.url+"/api/v1/reply/create", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReplyRuleCRUD(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/reply/create", map[string]any{"keyword": "", "reply": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "keyword")

	code, env = s.do(t, http.MethodPost, "/api/v1/reply/create", map[string]any{
		"platform_id": "shop", "keyword": "包邮", "reply": "全场包邮哦", "mode": "exact",
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	var created db.Keyword
	require.NoError(t, json.Unmarshal(env.Data, &created))

	code, env = s.do(t, http.MethodGet, "/api/v1/reply/list?ptf_id=shop", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Total)
	assert.EqualValues(t, 1, *env.Total)
	var items []types.ReplyItem
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 1)
	// No worker: the raw platform id stands in for its name.
	assert.Equal(t, "shop", items[0].PtfName)

	code, _ = s.do(t, http.MethodPost, "/api/v1/reply/update", map[string]any{
		"id": created.ID, "platform_id": "shop", "keyword": "包邮", "reply": "满99包邮", "mode": "fuzzy",
	})
	require.Equal(t, http.StatusOK, code)
	_, env = s.do(t, http.MethodGet, "/api/v1/reply/list?ptf_id=shop", nil)
	require.NoError(t, json.Unmarshal(env.Data, &items))
	assert.Equal(t, "满99包邮", items[0].Reply)

	code, env = s.do(t, http.MethodPost, "/api/v1/reply/delete", map[string]any{"id": created.ID})
	require.Equal(t, http.StatusOK, code)
	var deleted types.ReplyDeleteResponse
	require.NoError(t, json.Unmarshal(env.Data, &deleted))
	assert.EqualValues(t, 1, deleted.Deleted)

	code, _ = s.do(t, http.MethodPost, "/api/v1/reply/delete", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReplyExcelExportImport(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.url + "/api/v1/reply/excel")
	require.NoError(t, err)
	workbook, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "keywords-all.xlsx")

	_, env := s.do(t, http.MethodGet, "/api/v1/reply/list", nil)
	require.NotNil(t, env.Total)
	seeded := *env.Total

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "keywords.xlsx")
	require.NoError(t, err)
	_, err = part.Write(workbook)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err = http.Post(s.url+"/api/v1/reply/excel", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	var imported envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&imported))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, imported.Message)

	var res struct {
		Imported int64 `json:"imported"`
	}
	require.NoError(t, json.Unmarshal(imported.Data, &res))
	assert.Equal(t, seeded, res.Imported)

	_, env = s.do(t, http.MethodGet, "/api/v1/reply/list", nil)
	assert.EqualValues(t, 2*seeded, *env.Total)

	code, env := s.do(t, http.MethodPost, "/api/v1/reply/excel", map[string]any{"path": filepath.Join(t.TempDir(), "missing.xlsx")})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
}

func TestMessageListEmpty(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, http.MethodGet, "/api/v1/msg/list?page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	require.NotNil(t, env.Total)
	assert.Zero(t, *env.Total)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestPlatformSettingStub(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, http.MethodGet, "/api/v1/base/platform/setting?platformId=1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{}`, string(env.Data))

	code, env = s.do(t, http.MethodPost, "/api/v1/base/platform/setting", map[string]any{"platformId": "1", "settings": map[string]any{"a": 1}})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}

func TestWithoutWorker(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/base/runner", map[string]any{"is_paused": true})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "worker not connected", env.Message)

	code, _ = s.do(t, http.MethodPost, "/api/v1/app/tasks", map[string]any{"app_id": "shop-1"})
	assert.Equal(t, http.StatusBadGateway, code)
	_, env = s.do(t, http.MethodGet, "/api/v1/app/tasks", nil)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, _ = s.do(t, http.MethodPost, "/api/v1/app/tasks", map[string]any{"app_id": " "})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTasksAndRunnerWithWorker(t *testing.T) {
	s := newTestServer(t)
	worker := s.attachWorker(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/app/tasks", map[string]any{"app_id": "shop-1"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var task domain.Task
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.Equal(t, "shop-1", task.AppID)
	assert.Equal(t, domain.DefaultEnvID, task.EnvID)

	_, env = s.do(t, http.MethodGet, "/api/v1/app/tasks", nil)
	var tasks []domain.Task
	require.NoError(t, json.Unmarshal(env.Data, &tasks))
	assert.Equal(t, []domain.Task{task}, tasks)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/app/tasks/999", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodDelete, "/api/v1/app/tasks/"+task.TaskID, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/base/runner", map[string]any{"is_paused": true, "is_use_gpt": true})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, "STOPPED", worker.lastStatus())

	_, env = s.do(t, http.MethodGet, "/api/v1/base/settings", nil)
	var settings types.Settings
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.True(t, settings.HasPaused)
	assert.True(t, settings.HasUseGPT)

	code, env = s.do(t, http.MethodPost, "/api/v1/base/sync", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "STOPPED", worker.lastStatus())

	code, env = s.do(t, http.MethodGet, "/api/v1/base/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}

func TestPlatformNamesFromWorker(t *testing.T) {
	s := newTestServer(t)
	s.attachWorker(t)

	code, env := s.do(t, http.MethodGet, "/api/v1/base/platform/all", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	var platforms []domain.Platform
	require.NoError(t, json.Unmarshal(env.Data, &platforms))
	require.Len(t, platforms, 1)

	_, env = s.do(t, http.MethodPost, "/api/v1/reply/create", map[string]any{"platform_id": "1", "keyword": "发票", "reply": "可以开发票"})
	require.True(t, env.Success, env.Message)

	_, env = s.do(t, http.MethodGet, "/api/v1/reply/list?ptf_id=1", nil)
	var items []types.ReplyItem
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "拼多多", items[0].PtfName)

	_, env = s.do(t, http.MethodGet, "/api/v1/reply/list?page_size=1", nil)
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 1)
}
