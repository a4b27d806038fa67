package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/ui"
)

var ownerCmd = &cobra.Command{
	Use:   "owner",
	Short: "Manage advisors and their connected accounts",
}

var ownerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an advisor with Google and HubSpot tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return fail("add owner", err)
		}
		defer func() { _ = store.Close() }()

		email, _ := cmd.Flags().GetString("email")
		gAccess, _ := cmd.Flags().GetString("google-token")
		gRefresh, _ := cmd.Flags().GetString("google-refresh")
		hAccess, _ := cmd.Flags().GetString("hubspot-token")
		hRefresh, _ := cmd.Flags().GetString("hubspot-refresh")

		o, err := store.CreateOwner(task.Owner{
			Email:   email,
			Google:  task.Credential{AccessToken: gAccess, RefreshToken: gRefresh},
			HubSpot: task.Credential{AccessToken: hAccess, RefreshToken: hRefresh},
		})
		if err != nil {
			return fail("add owner", err)
		}
		fmt.Printf("%s added %s (%s)\n", ui.StyleSuccess.Render("✓"), o.Email, o.ID)
		return nil
	},
}

var ownerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List advisors and which accounts are connected",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return fail("list owners", err)
		}
		defer func() { _ = store.Close() }()

		owners, err := store.ListOwners()
		if err != nil {
			return fail("list owners", err)
		}
		if len(owners) == 0 {
			fmt.Println(ui.StyleSubtle.Render("No owners. Add one with 'advisor owner add'."))
			return nil
		}
		tbl := &ui.Table{Headers: []string{"ID", "EMAIL", "GOOGLE", "HUBSPOT"}}
		for _, o := range owners {
			tbl.Rows = append(tbl.Rows, []string{o.ID, o.Email, yesNo(o.Google.Connected()), yesNo(o.HubSpot.Connected())})
		}
		fmt.Fprint(os.Stdout, tbl.Render())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ownerCmd)
	ownerCmd.AddCommand(ownerAddCmd, ownerListCmd)

	ownerAddCmd.Flags().String("email", "", "advisor login email")
	ownerAddCmd.Flags().String("google-token", "", "Google OAuth access token")
	ownerAddCmd.Flags().String("google-refresh", "", "Google OAuth refresh token")
	ownerAddCmd.Flags().String("hubspot-token", "", "HubSpot OAuth access token")
	ownerAddCmd.Flags().String("hubspot-refresh", "", "HubSpot OAuth refresh token")
	_ = ownerAddCmd.MarkFlagRequired("email")
}

func yesNo(b bool) string {
	if b {
		return "connected"
	}
	return "-"
}

type ownerLookup interface {
	GetOwner(id string) (*task.Owner, error)
	GetOwnerByEmail(email string) (*task.Owner, error)
}

// resolveOwner accepts an owner id or login email.
func resolveOwner(store ownerLookup, ref string) (*task.Owner, error) {
	ref = strings.TrimSpace(ref)
	if strings.Contains(ref, "@") {
		return store.GetOwnerByEmail(ref)
	}
	return store.GetOwner(ref)
}
