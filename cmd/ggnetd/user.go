package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage API users (admin only)",
}

var userCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Create a user and print its API token",
	Long: `Create a user with the given role.

The API token is printed exactly once; the server stores only a hash.
Roles: viewer (read only), operator (read and mutate), admin (operator
plus user management).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")

		user, token, err := apiClient(cmd).CreateUser(args[0], types.UserRole(strings.ToUpper(role)))
		if err != nil {
			return err
		}
		fmt.Printf("✓ User %s created (role %s)\n", user.Username, user.Role)
		fmt.Println()
		fmt.Println("API token (save it now, it will not be shown again):")
		fmt.Printf("  %s\n", token)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := apiClient(cmd).ListUsers()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tROLE\tCREATED")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				u.ID, u.Username, u.Role, humanize.Time(u.CreatedAt))
		}
		return w.Flush()
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a user and revoke its token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DeleteUser(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ User %s removed\n", args[0])
		return nil
	},
}

func init() {
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userRemoveCmd)

	userCreateCmd.Flags().String("role", "viewer", "Role: viewer, operator or admin")
}
