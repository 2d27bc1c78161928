package users

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/repository"
)

var setRoleCmd = &cobra.Command{
	Use:   "set-role <uid> <USER|ADMIN>",
	Short: "Promote or demote a user",
	Long: `Sets the role in the store of record and mirrors it to the provider's
role claim when a claims endpoint is configured. A failed claim write is
reported but does not undo the store change.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid := args[0]
		role, err := auth.ParseRole(args[1])
		if err != nil {
			return err
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if _, err := store.Users.Get(cmd.Context(), uid); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("user %s not found; create it first", uid)
			}
			return err
		}

		result, err := store.Roles.Promote(cmd.Context(), uid, role)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "User %s is now %s\n", result.UID, result.Role)
		if result.ClaimErr != nil {
			fmt.Fprintf(out, "Warning: provider claim not updated: %v\n", result.ClaimErr)
		}
		return nil
	},
}
