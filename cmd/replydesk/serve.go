package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/db/migrations"
	"github.com/replydesk/replydesk/internal/logging"
	"github.com/replydesk/replydesk/internal/metrics"
	"github.com/replydesk/replydesk/internal/scheduler"
	"github.com/replydesk/replydesk/internal/server"
	"github.com/replydesk/replydesk/internal/svc"
)

func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the controller (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServe(cmd.Context())
		},
	}
}

// RunServe starts the database, the worker and UI sockets, the HTTP API and
// the scheduler, and blocks until SIGINT/SIGTERM or a component fails.
func RunServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	c := *ServerConfig

	dbDir := filepath.Dir(c.Database.SQLitePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	lockFile, err := acquireLock(dbDir)
	if err != nil {
		return fmt.Errorf("%w: replydesk is already running for %s", err, dbDir)
	}
	defer releaseLock(lockFile)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	migrations.QuietMode = !verbose

	store, err := db.NewSQLite(c.Database.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	svcCtx := svc.NewServiceContext(c, store)
	svcCtx.Version = Version
	defer svcCtx.Close()

	if err := svcCtx.Start(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	if c.Scheduler.Enabled {
		sched, err := scheduler.New(c.Scheduler, svcCtx.Dispatch, svcCtx.UIHub)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, svcCtx, server.ServerOptions{Quiet: quiet})
	})

	err = g.Wait()
	logging.Info("replydesk stopped")
	return err
}
