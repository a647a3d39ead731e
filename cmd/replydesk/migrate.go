package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/db/migrations"
)

// MigrateCmd applies pending schema migrations and seeds default data
// without starting the controller.
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and seed defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := db.NewSQLite(ServerConfig.Database.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Seed(ctx); err != nil {
				return err
			}
			version, err := migrations.Version(ctx, store.GetDB())
			if err != nil {
				return err
			}
			fmt.Printf("%s at schema version %d\n", ServerConfig.Database.SQLitePath, version)
			return nil
		},
	}
}
