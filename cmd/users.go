package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/mlboard/internal/model"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage leaderboard users",
}

var (
	userGroup string
	userAdmin bool
)

var usersAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		u := &model.User{Username: args[0], GroupName: userGroup}
		if userAdmin {
			u.Role = model.RoleAdmin
		}
		if err := st.CreateUser(ctx, u); err != nil {
			return err
		}
		fmt.Printf("created user %s (%s)\n", u.Username, u.ID)
		return nil
	},
}

func init() {
	usersAddCmd.Flags().StringVar(&userGroup, "group", "", "group name")
	usersAddCmd.Flags().BoolVar(&userAdmin, "admin", false, "grant admin role")
	usersCmd.AddCommand(usersAddCmd)
	rootCmd.AddCommand(usersCmd)
}
