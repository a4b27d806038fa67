package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Far3/financial-advisor-ai/internal/ui"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one reply scan over every owner with waiting tasks",
	Long: `Match recent inbound email against tasks waiting for a reply and resume
each matched task. Safe to run from an external scheduler; overlapping runs
never process the same reply twice.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication(cmd.Context(), appOptions{withModel: true})
		if err != nil {
			return fail("scan", err)
		}
		defer app.Close()

		res, err := app.monitor.RunScan(cmd.Context())
		if err != nil {
			return fail("scan", err)
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return json.NewEncoder(os.Stdout).Encode(res)
		}
		fmt.Printf("%s processed %d replies across %d owners\n",
			ui.StyleSuccess.Render("✓"), res.ProcessedCount, res.Owners)
		if res.OwnerErrors > 0 {
			fmt.Println(ui.StyleWarning.Render(fmt.Sprintf("  %d owners failed; see logs", res.OwnerErrors)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Bool("json", false, "print the result as JSON")
}
