package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Far3/financial-advisor-ai/internal/config"
	"github.com/Far3/financial-advisor-ai/internal/scheduler"
	"github.com/Far3/financial-advisor-ai/internal/server"
	"github.com/Far3/financial-advisor-ai/internal/task"
)

const (
	jobReplyScan   = "reply-scan"
	jobContactSync = "contact-sync"

	contactSyncInterval = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic reply scan",
	Long: `Start the HTTP API and an in-process scheduler that runs the reply scan
every scan.interval and refreshes HubSpot contacts hourly. Editing the config
file while serving updates the scan interval and look-back window.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		noScan, _ := cmd.Flags().GetBool("no-scan")
		return runServe(cmd.Context(), port, !noScan)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "listen port (default server.port)")
	serveCmd.Flags().Bool("no-scan", false, "serve the API without the background scan")
}

func runServe(parent context.Context, port int, scan bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, appOptions{withModel: true})
	if err != nil {
		return fail("start server", err)
	}
	defer app.Close()

	if port == 0 {
		port = app.cfg.Server.Port
	}

	deps := server.Deps{
		Store:      app.store,
		Assistant:  app.assistant,
		Monitor:    app.monitor,
		Gmail:      app.gmailSync,
		HubSpot:    app.crmSync,
		Engine:     app.engine,
		CronSecret: app.cfg.Cron.Secret,
		Origins:    app.cfg.Server.AllowedOrigins,
	}

	sched := scheduler.New()
	if scan {
		deps.Jobs = sched
		if err := registerJobs(sched, app); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		watchConfig(func(cfg config.AppConfig) {
			app.monitor.SetConfig(monitorConfig(cfg))
			if err := sched.SetInterval(jobReplyScan, cfg.Scan.Interval); err != nil {
				slog.Warn("scan interval not updated", "error", err)
			}
		})
	}
	srv := server.New(port, deps)

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	srv.Start(&wg, errCh)
	fmt.Fprintf(os.Stderr, "advisor listening on :%d\n", port)

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		slog.Warn("http shutdown", "error", serr)
	}
	if scan {
		if serr := sched.Stop(10 * time.Second); serr != nil {
			slog.Warn("scheduler stop", "error", serr)
		}
	}
	wg.Wait()
	return err
}

func registerJobs(sched *scheduler.Scheduler, app *application) error {
	scanJob := scheduler.Job{
		Name:       jobReplyScan,
		Interval:   app.cfg.Scan.Interval,
		Timeout:    app.cfg.Scan.Interval,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			_, err := app.monitor.RunScan(ctx)
			return err
		},
	}
	contactJob := scheduler.Job{
		Name:     jobContactSync,
		Interval: contactSyncInterval,
		Timeout:  5 * time.Minute,
		Run: func(ctx context.Context) error {
			return syncAllContacts(ctx, app)
		},
	}
	return errors.Join(sched.Register(scanJob), sched.Register(contactJob))
}

// syncAllContacts refreshes contacts for every HubSpot-connected owner.
func syncAllContacts(ctx context.Context, app *application) error {
	owners, err := app.store.ListOwners()
	if err != nil {
		return err
	}
	var errs []error
	for i := range owners {
		o := &owners[i]
		if !o.HubSpot.Connected() {
			continue
		}
		if _, err := app.crmSync.Sync(ctx, o); err != nil {
			slog.Warn("contact sync failed", "owner_id", o.ID, "kind", task.Kind(err), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
