package users

import (
	"errors"
	"fmt"
	"net/mail"

	"github.com/spf13/cobra"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/repository"
)

var (
	createEmail string
	createName  string
	createRole  string
)

var createCmd = &cobra.Command{
	Use:   "create <uid>",
	Short: "Provision a user record ahead of first sign-in",
	Long: `Creates a user record keyed by the identity provider uid. The record is
used as-is when the user first signs in; a role given here takes effect
immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := auth.ParseRole(createRole)
		if err != nil {
			return err
		}
		if createEmail != "" {
			if _, err := mail.ParseAddress(createEmail); err != nil {
				return fmt.Errorf("invalid email format: %w", err)
			}
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := store.Users.Create(cmd.Context(), repository.UserSeed{
			ID:    args[0],
			Email: createEmail,
			Name:  createName,
			Role:  role,
		})
		if err != nil {
			if errors.Is(err, repository.ErrUserExists) {
				return fmt.Errorf("user %s already exists; use set-role to change the role", args[0])
			}
			return fmt.Errorf("create user: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (role %s)\n", user.ID, user.Role)
		return nil
	},
}
