package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Far3/financial-advisor-ai/internal/mailsync"
	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull inbox mail or CRM contacts into the local store",
}

var syncGmailCmd = &cobra.Command{
	Use:   "gmail",
	Short: "Fetch new inbox messages for one owner or all connected owners",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, "inbox sync", func(o *task.Owner) bool { return o.Google.Connected() },
			func(app *application) func(context.Context, *task.Owner) (mailsync.SyncResult, error) {
				return app.gmailSync.Sync
			})
	},
}

var syncHubSpotCmd = &cobra.Command{
	Use:   "hubspot",
	Short: "Refresh HubSpot contacts for one owner or all connected owners",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, "contact sync", func(o *task.Owner) bool { return o.HubSpot.Connected() },
			func(app *application) func(context.Context, *task.Owner) (mailsync.SyncResult, error) {
				return app.crmSync.Sync
			})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncGmailCmd, syncHubSpotCmd)
	syncCmd.PersistentFlags().String("owner", "", "owner id or email (default: every connected owner)")
}

func runSync(
	cmd *cobra.Command,
	action string,
	connected func(*task.Owner) bool,
	pick func(*application) func(context.Context, *task.Owner) (mailsync.SyncResult, error),
) error {
	app, err := newApplication(cmd.Context(), appOptions{})
	if err != nil {
		return fail(action, err)
	}
	defer app.Close()
	syncFn := pick(app)

	ownerFlag, _ := cmd.Flags().GetString("owner")
	var owners []task.Owner
	if ownerFlag != "" {
		o, err := resolveOwner(app.store, ownerFlag)
		if err != nil {
			return fail(action, err)
		}
		owners = []task.Owner{*o}
	} else {
		all, err := app.store.ListOwners()
		if err != nil {
			return fail(action, err)
		}
		for _, o := range all {
			if connected(&o) {
				owners = append(owners, o)
			}
		}
	}
	if len(owners) == 0 {
		fmt.Println(ui.StyleSubtle.Render("No connected owners."))
		return nil
	}

	var lastErr error
	for i := range owners {
		o := &owners[i]
		res, err := syncFn(cmd.Context(), o)
		if err != nil {
			lastErr = err
			fmt.Printf("%s %s: %s\n", ui.StyleError.Render("✗"), o.Email, userMessage(action, err))
			continue
		}
		fmt.Printf("%s %s: fetched %d, saved %d, skipped %d, failed %d\n",
			ui.StyleSuccess.Render("✓"), o.Email, res.Fetched, res.Saved, res.Skipped, res.Failed)
	}
	if lastErr != nil {
		return fail(action, lastErr)
	}
	return nil
}
