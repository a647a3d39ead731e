package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/domain"
	configlogic "github.com/replydesk/replydesk/internal/logic/config"
	"github.com/replydesk/replydesk/internal/metrics"
)

// Protocol budgets.
const (
	HealthTimeout  = 10 * time.Second
	HealthAttempts = 3
	HealthDelay    = time.Second

	SyncAttempts  = 3
	SyncDelay     = 2 * time.Second
	StatusTimeout = 30 * time.Second

	TasksTimeout = 60 * time.Second

	PlatformAttempts = 10
	PlatformDelay    = time.Second
)

// Defaults pushed when the generic projection leaves a field unset.
const (
	DefaultJinritemaiReply   = "很高兴为您服务，请问有什么可以帮您？"
	DefaultTruncateWordCount = 210
)

// ErrPreconditionMissing is returned when a config projection needed for a
// sync does not exist. It is not retried.
var ErrPreconditionMissing = errors.New("config projection missing")

// StatusUpdate is the bundle pushed with strategyService-updateStatus.
type StatusUpdate struct {
	Status  domain.StrategyStatus `json:"status"`
	JDR     string                `json:"jdr"`
	TWKey   string                `json:"twkey"`
	TWCount int64                 `json:"twcount"`
}

// CheckHealth asks the worker whether it is healthy. It tries three times,
// one second apart, and reports false when every attempt fails.
func (s *Service) CheckHealth(ctx context.Context) bool {
	for attempt := 1; attempt <= HealthAttempts; attempt++ {
		payload, err := s.bridge.Call(ctx, MethodHealth, nil, HealthTimeout)
		if err == nil {
			var healthy bool
			if err := json.Unmarshal(payload, &healthy); err != nil {
				log.Warnf("health: unexpected payload %s", payload)
				return false
			}
			return healthy
		}
		log.Warnf("health attempt %d/%d failed: %v", attempt, HealthAttempts, err)
		if attempt < HealthAttempts {
			metrics.IncRetry("health")
			if s.sleep(ctx, HealthDelay) != nil {
				return false
			}
		}
	}
	return false
}

// SyncConfig pushes the run state and worker settings, then the task roster.
// It tries three times, two seconds apart; a missing projection fails at once.
func (s *Service) SyncConfig(ctx context.Context) bool {
	for attempt := 1; attempt <= SyncAttempts; attempt++ {
		err := s.syncOnce(ctx)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrPreconditionMissing) {
			log.Warnf("sync skipped: %v", err)
			return false
		}
		log.Warnf("sync attempt %d/%d failed: %v", attempt, SyncAttempts, err)
		if attempt < SyncAttempts {
			metrics.IncRetry("sync")
			if s.sleep(ctx, SyncDelay) != nil {
				return false
			}
		}
	}
	return false
}

func (s *Service) syncOnce(ctx context.Context) error {
	driver, err := s.configs.DriverConfig(ctx, configlogic.ConfigQuery{Type: configlogic.TypeDriver})
	if err != nil {
		return err
	}
	if driver == nil {
		return fmt.Errorf("%w: driver", ErrPreconditionMissing)
	}
	generic, err := s.configs.GenericConfig(ctx, configlogic.ConfigQuery{Type: configlogic.TypeGeneric})
	if err != nil {
		return err
	}
	if generic == nil {
		return fmt.Errorf("%w: generic", ErrPreconditionMissing)
	}

	update := BuildStatusUpdate(driver, generic)
	if _, err := s.bridge.Call(ctx, MethodUpdateStatus, update, StatusTimeout); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	instances, err := s.store.ListInstances(ctx)
	if err != nil {
		return err
	}
	s.UpdateTasks(ctx, instances)
	return nil
}

// BuildStatusUpdate derives the status bundle; each field defaults on its own.
func BuildStatusUpdate(driver *configlogic.DriverConfig, generic *configlogic.GenericConfig) StatusUpdate {
	u := StatusUpdate{
		Status:  domain.StatusRunning,
		JDR:     DefaultJinritemaiReply,
		TWCount: DefaultTruncateWordCount,
	}
	if driver.HasPaused != nil && *driver.HasPaused {
		u.Status = domain.StatusStopped
	}
	if generic.JinritemaiDefaultReplyMatch != nil {
		u.JDR = *generic.JinritemaiDefaultReplyMatch
	}
	if generic.TruncateWordKey != nil {
		u.TWKey = *generic.TruncateWordKey
	}
	if generic.TruncateWordCount != nil && *generic.TruncateWordCount != 0 {
		u.TWCount = *generic.TruncateWordCount
	}
	return u
}

// UpdateStatus pushes only the run state.
func (s *Service) UpdateStatus(ctx context.Context, status domain.StrategyStatus) error {
	_, err := s.bridge.Call(ctx, MethodUpdateStatus, map[string]any{"status": status}, StatusTimeout)
	return err
}

type tasksPayload struct {
	Tasks []domain.Task `json:"tasks"`
}

// UpdateTasks pushes the full roster in one call. A nil result means the
// outcome is unknown: the call failed, timed out or returned something other
// than an array.
func (s *Service) UpdateTasks(ctx context.Context, instances []db.Instance) []domain.TaskResult {
	payload := tasksPayload{Tasks: make([]domain.Task, 0, len(instances))}
	for _, inst := range instances {
		payload.Tasks = append(payload.Tasks, inst.Task())
	}

	raw, err := s.bridge.Call(ctx, MethodUpdateTasks, payload, TasksTimeout)
	if err != nil {
		log.Errorf("update tasks: %v", err)
		return nil
	}
	var results []domain.TaskResult
	if err := json.Unmarshal(raw, &results); err != nil || results == nil {
		log.Errorf("update tasks: invalid response %s", raw)
		return nil
	}
	return results
}

// GetAllPlatforms lists the worker's chat accounts. It tries ten times,
// waiting one second after every failure, and returns an empty list when all
// attempts fail.
func (s *Service) GetAllPlatforms(ctx context.Context) []domain.Platform {
	for attempt := 1; attempt <= PlatformAttempts; attempt++ {
		raw, err := s.bridge.Call(ctx, MethodGetAppsInfo, nil, 0)
		if err == nil {
			var platforms []domain.Platform
			if err = json.Unmarshal(raw, &platforms); err == nil {
				if platforms == nil {
					platforms = []domain.Platform{}
				}
				return platforms
			}
		}
		log.Warnf("platforms attempt %d/%d failed: %v", attempt, PlatformAttempts, err)
		metrics.IncRetry("platforms")
		if s.sleep(ctx, PlatformDelay) != nil {
			break
		}
	}
	return []domain.Platform{}
}
