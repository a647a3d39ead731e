package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/logging"
)

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config) *cobra.Command {
	ServerConfig = c

	rootCmd := &cobra.Command{
		Use:   "replydesk",
		Short: "replydesk - customer-service reply controller",
		Long: `replydesk answers customer messages for the chat platforms driven by a
connected automation worker, using keyword rules, GPT or Lua reply plugins.

Just type 'replydesk' to start the controller.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServe(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file layered over the built-in defaults")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "base directory for relative storage paths")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress the request log")

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(MigrateCmd())
	rootCmd.AddCommand(VersionCmd())

	return rootCmd
}

// loadConfig applies --config, --data-dir and --verbose to ServerConfig and
// sets up logging.
func loadConfig() error {
	c := *ServerConfig
	if cfgFile != "" {
		loaded, err := config.LoadFile(c, cfgFile)
		if err != nil {
			return err
		}
		c = loaded
	}
	c.ResolvePaths(dataDir)
	if verbose {
		c.Log.Level = "debug"
	}
	*ServerConfig = c

	logging.Setup(os.Stderr, c.Log.Level, c.Log.JSON)
	logging.Debugf("config: listen=%s db=%s plugins=%s", c.Server.Addr(), c.Database.SQLitePath, c.Plugins.Dir)
	return nil
}

func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
}
