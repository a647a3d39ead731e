package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/replydesk/replydesk/internal/handler"
	"github.com/replydesk/replydesk/internal/handler/app"
	"github.com/replydesk/replydesk/internal/handler/base"
	"github.com/replydesk/replydesk/internal/handler/msg"
	"github.com/replydesk/replydesk/internal/handler/reply"
	"github.com/replydesk/replydesk/internal/lifecycle"
	"github.com/replydesk/replydesk/internal/logging"
	"github.com/replydesk/replydesk/internal/metrics"
	"github.com/replydesk/replydesk/internal/middleware"
	"github.com/replydesk/replydesk/internal/svc"
)

// ServerOptions holds optional settings for the server
type ServerOptions struct {
	Quiet bool // Suppress the request log
}

// NewRouter builds the HTTP surface: the REST API, both websocket endpoints,
// liveness and metrics.
func NewRouter(svcCtx *svc.ServiceContext, opts ServerOptions) http.Handler {
	r := chi.NewRouter()

	if !opts.Quiet {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS(middleware.OriginChecker(svcCtx.Config.Server.AllowedOrigins)))
	r.Use(metrics.Instrument)

	r.Get("/health", handler.HealthCheckHandler(svcCtx))
	r.Handle("/metrics", metrics.Handler())

	// WebSocket routes
	r.Get("/ws/worker", svcCtx.WorkerHub.ServeHTTP)
	r.Get("/ws/ui", svcCtx.UIHub.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		registerMsgRoutes(r, svcCtx)
		registerBaseRoutes(r, svcCtx)
		registerReplyRoutes(r, svcCtx)
		registerAppRoutes(r, svcCtx)
	})
	return r
}

func registerMsgRoutes(r chi.Router, svcCtx *svc.ServiceContext) {
	r.Get("/msg/list", msg.ListMessagesHandler(svcCtx))
}

func registerBaseRoutes(r chi.Router, svcCtx *svc.ServiceContext) {
	r.Get("/base/platform/all", base.ListPlatformsHandler(svcCtx))
	r.Get("/base/platform/setting", base.GetPlatformSettingHandler(svcCtx))
	r.Post("/base/platform/setting", base.UpdatePlatformSettingHandler(svcCtx))
	r.Post("/base/runner", base.RunnerHandler(svcCtx))
	r.Get("/base/settings", base.GetSettingsHandler(svcCtx))
	r.Post("/base/settings", base.UpdateSettingsHandler(svcCtx))
	r.Post("/base/sync", base.SyncHandler(svcCtx))
	r.Get("/base/health", base.WorkerHealthHandler(svcCtx))
	r.Get("/base/gpt/health", base.GPTHealthHandler(svcCtx))
}

func registerReplyRoutes(r chi.Router, svcCtx *svc.ServiceContext) {
	r.Get("/reply/list", reply.ListRepliesHandler(svcCtx))
	r.Post("/reply/create", reply.CreateReplyHandler(svcCtx))
	r.Post("/reply/update", reply.UpdateReplyHandler(svcCtx))
	r.Post("/reply/delete", reply.DeleteReplyHandler(svcCtx))
	r.Post("/reply/excel", reply.ImportRepliesHandler(svcCtx))
	r.Get("/reply/excel", reply.ExportRepliesHandler(svcCtx))
}

func registerAppRoutes(r chi.Router, svcCtx *svc.ServiceContext) {
	r.Get("/app/tasks", app.ListTasksHandler(svcCtx))
	r.Post("/app/tasks", app.AddTaskHandler(svcCtx))
	r.Delete("/app/tasks/{id}", app.RemoveTaskHandler(svcCtx))
}

// Run serves the router until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, svcCtx *svc.ServiceContext, opts ServerOptions) error {
	addr := svcCtx.Config.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	// ReadTimeout/WriteTimeout are omitted: they would cut the hijacked
	// websocket connections, which keep themselves alive with ping/pong.
	httpServer := &http.Server{
		Handler:           NewRouter(svcCtx, opts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	logging.Infof("Server ready at http://%s", ln.Addr())
	svcCtx.Lifecycle.Emit(lifecycle.EventServerStarted, ln.Addr().String())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("Shutting down server gracefully...")
	svcCtx.Lifecycle.Emit(lifecycle.EventShutdownStarted, nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err = httpServer.Shutdown(shutdownCtx)
	svcCtx.Lifecycle.Emit(lifecycle.EventShutdownComplete, nil)
	return err
}
