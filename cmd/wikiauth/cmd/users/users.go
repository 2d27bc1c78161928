package users

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/iKora128/medical-wiki/cmd/wikiauth/cmd/cmdutil"
	"github.com/iKora128/medical-wiki/internal/config"
)

// UsersCmd is the parent command for user store operations
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user records and roles",
	Long:  `Commands for inspecting and changing user records directly in the store of record.`,
}

// openStore loads configuration (the root command has already read any
// config file) and connects to the user store.
func openStore(cmd *cobra.Command) (*cmdutil.StoreBundle, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cmdutil.NewStoreBundle(cmd.Context(), cfg, slog.Default(), nil)
}

func init() {
	listCmd.Flags().StringVar(&listEmail, "email", "", "Filter by email substring")
	listCmd.Flags().StringVar(&listRole, "role", "", "Filter by role (USER or ADMIN)")
	listCmd.Flags().IntVar(&listPage, "page", 1, "Page number")
	listCmd.Flags().IntVar(&listLimit, "limit", 10, "Page size (max 100)")

	createCmd.Flags().StringVar(&createEmail, "email", "", "Email address of the user")
	createCmd.Flags().StringVar(&createName, "name", "", "Display name of the user")
	createCmd.Flags().StringVar(&createRole, "role", "USER", "Initial role (USER or ADMIN)")

	UsersCmd.AddCommand(listCmd)
	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(setRoleCmd)
}
