package users

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/repository"
)

var (
	listEmail string
	listRole  string
	listPage  int
	listLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := repository.UserFilter{EmailContains: listEmail, Page: listPage, Limit: listLimit}
		if listRole != "" {
			role, err := auth.ParseRole(listRole)
			if err != nil {
				return err
			}
			filter.Role = role
		}
		filter = filter.Normalize()

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		users, total, err := store.Users.List(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tLAST LOGIN")
		for i := range users {
			u := &users[i]
			lastLogin := "never"
			if u.LastLoginAt != nil {
				lastLogin = u.LastLoginAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.EmailOrEmpty(), u.Name, u.Role, lastLogin)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		pages := (total + filter.Limit - 1) / filter.Limit
		fmt.Fprintf(cmd.OutOrStdout(), "\npage %d of %d (%d users)\n", filter.Page, pages, total)
		return nil
	},
}
