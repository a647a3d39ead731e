package cli

import (
	"github.com/replydesk/replydesk/internal/config"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile string
	dataDir string
	verbose bool
	quiet   bool
)

// Version is set at build time with -ldflags.
var Version = "dev"

// ServerConfig holds the loaded configuration (set by main)
var ServerConfig *config.Config
