// Package scheduler runs the periodic UI refresh, health probe and config sync.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/logging"
	"github.com/replydesk/replydesk/internal/notify"
)

var log = logging.Named("scheduler")

// Coordinator is the part of the dispatch service the jobs drive.
type Coordinator interface {
	CheckHealth(ctx context.Context) bool
	SyncConfig(ctx context.Context) bool
}

// Notifier reaches the UI.
type Notifier interface {
	Broadcast(msgType string, data any)
}

type Scheduler struct {
	cron     *cron.Cron
	coord    Coordinator
	notifier Notifier

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the three jobs. Specs use the six-field (seconds) format; an
// empty spec disables its job.
func New(cfg config.SchedulerConfig, coord Coordinator, notifier Notifier) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
		coord:    coord,
		notifier: notifier,
		ctx:      context.Background(),
	}
	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"refresh-config", cfg.RefreshSpec, s.refresh},
		{"check-health", cfg.HealthSpec, s.health},
		{"sync-config", cfg.SyncSpec, s.sync},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, j.run); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		log.Debugf("scheduled %s at %q", j.name, j.spec)
	}
	return s, nil
}

// Start runs the jobs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	log.Infof("started with %d jobs", len(s.cron.Entries()))
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// refresh tells every UI to re-read its settings.
func (s *Scheduler) refresh() {
	s.notifier.Broadcast(notify.TypeRefreshConfig, nil)
}

// health forwards the worker's health verdict to the UI.
func (s *Scheduler) health() {
	healthy := s.coord.CheckHealth(s.jobContext())
	s.notifier.Broadcast(notify.TypeCheckHealth, healthy)
}

func (s *Scheduler) sync() {
	if !s.coord.SyncConfig(s.jobContext()) {
		log.Debugf("periodic sync did not complete")
	}
}

// cronLogger routes cron's own messages to the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.Debugf("%s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Errorf("%s: %v %v", msg, err, keysAndValues)
}
