// Package config resolves and updates reply configuration rows.
package config

import (
	"context"
	"errors"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/domain"
	"github.com/replydesk/replydesk/internal/logging"
)

var log = logging.Named("config")

// Projection types accepted by GetConfigByType.
const (
	TypeDriver  = "driver"
	TypeGeneric = "generic"
)

// ConfigQuery addresses a projection. Empty ids select the global row.
type ConfigQuery struct {
	AppID      string
	InstanceID string
	Type       string
}

// DriverConfig is the worker-facing run state. Nil fields are unset.
type DriverConfig struct {
	HasPaused *bool
}

// GenericConfig holds the platform-neutral worker settings. Nil fields are unset.
type GenericConfig struct {
	JinritemaiDefaultReplyMatch *string
	TruncateWordKey             *string
	TruncateWordCount           *int64
}

type Controller struct {
	store *db.Store
}

func NewController(store *db.Store) *Controller {
	return &Controller{store: store}
}

// GetConfig returns the global row.
func (c *Controller) GetConfig(ctx context.Context) (*db.Config, error) {
	return c.store.GetGlobalConfig(ctx)
}

// UpdateConfig applies a partial update to row id.
func (c *Controller) UpdateConfig(ctx context.Context, id int64, patch db.ConfigPatch) (*db.Config, error) {
	return c.store.UpdateConfig(ctx, id, patch)
}

// UpdateGlobal applies a partial update to the global row.
func (c *Controller) UpdateGlobal(ctx context.Context, patch db.ConfigPatch) (*db.Config, error) {
	global, err := c.store.GetGlobalConfig(ctx)
	if err != nil {
		return nil, err
	}
	return c.store.UpdateConfig(ctx, global.ID, patch)
}

// Get resolves the effective config for a conversation. The most specific
// active row wins: instance+platform, instance, platform, then global.
func (c *Controller) Get(ctx context.Context, conv domain.ConvContext) (*db.Config, error) {
	instanceID := conv.Get(domain.CtxInstanceID)
	platformID := conv.Get(domain.CtxPlatformID)

	var scopes [][2]string
	if instanceID != "" && platformID != "" {
		scopes = append(scopes, [2]string{instanceID, platformID})
	}
	if instanceID != "" {
		scopes = append(scopes, [2]string{instanceID, ""})
	}
	if platformID != "" {
		scopes = append(scopes, [2]string{"", platformID})
	}
	for _, s := range scopes {
		cfg, err := c.store.FindScopedConfig(ctx, s[0], s[1])
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}
	return c.store.GetGlobalConfig(ctx)
}

// lookup returns the row a projection query addresses, or nil when absent.
func (c *Controller) lookup(ctx context.Context, q ConfigQuery) (*db.Config, error) {
	var cfg *db.Config
	var err error
	if q.InstanceID != "" {
		cfg, err = c.store.FindScopedConfig(ctx, q.InstanceID, "")
	} else {
		cfg, err = c.store.GetGlobalConfig(ctx)
	}
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return cfg, err
}

// GetConfigByType returns a *DriverConfig or *GenericConfig depending on q.Type.
// The result is nil when the addressed row does not exist.
func (c *Controller) GetConfigByType(ctx context.Context, q ConfigQuery) (any, error) {
	switch q.Type {
	case TypeDriver:
		d, err := c.DriverConfig(ctx, q)
		if d == nil {
			return nil, err
		}
		return d, err
	case TypeGeneric:
		g, err := c.GenericConfig(ctx, q)
		if g == nil {
			return nil, err
		}
		return g, err
	}
	return nil, errors.New("unknown config type " + q.Type)
}

// DriverConfig returns the driver projection, nil when absent.
func (c *Controller) DriverConfig(ctx context.Context, q ConfigQuery) (*DriverConfig, error) {
	cfg, err := c.lookup(ctx, q)
	if cfg == nil {
		return nil, err
	}
	paused := cfg.HasPaused
	return &DriverConfig{HasPaused: &paused}, nil
}

// GenericConfig returns the generic projection, nil when absent. Nullable
// columns map to nil fields.
func (c *Controller) GenericConfig(ctx context.Context, q ConfigQuery) (*GenericConfig, error) {
	cfg, err := c.lookup(ctx, q)
	if cfg == nil {
		return nil, err
	}
	g := &GenericConfig{}
	if cfg.JinritemaiDefaultReplyMatch.Valid {
		g.JinritemaiDefaultReplyMatch = &cfg.JinritemaiDefaultReplyMatch.String
	}
	if cfg.TruncateWordKey.Valid {
		g.TruncateWordKey = &cfg.TruncateWordKey.String
	}
	if cfg.TruncateWordCount.Valid {
		g.TruncateWordCount = &cfg.TruncateWordCount.Int64
	}
	return g, nil
}

// EscKeyDownHandler pauses replies when the operator pressed escape, the
// strategy is running and escape-to-pause is enabled. It reports whether the
// state changed.
func (c *Controller) EscKeyDownHandler(ctx context.Context) (bool, error) {
	global, err := c.store.GetGlobalConfig(ctx)
	if err != nil {
		return false, err
	}
	if global.HasPaused || !global.HasEscClose {
		return false, nil
	}
	paused := true
	if _, err := c.store.UpdateConfig(ctx, global.ID, db.ConfigPatch{HasPaused: &paused}); err != nil {
		return false, err
	}
	log.Infof("replies paused by escape key")
	return true, nil
}

// SetPaused sets the global pause flag and reports whether it changed.
func (c *Controller) SetPaused(ctx context.Context, paused bool) (bool, error) {
	global, err := c.store.GetGlobalConfig(ctx)
	if err != nil {
		return false, err
	}
	if global.HasPaused == paused {
		return false, nil
	}
	if _, err := c.store.UpdateConfig(ctx, global.ID, db.ConfigPatch{HasPaused: &paused}); err != nil {
		return false, err
	}
	return true, nil
}
