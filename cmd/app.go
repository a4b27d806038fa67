package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/Far3/financial-advisor-ai/internal/adapters/google"
	"github.com/Far3/financial-advisor-ai/internal/adapters/hubspot"
	"github.com/Far3/financial-advisor-ai/internal/assistant"
	"github.com/Far3/financial-advisor-ai/internal/config"
	"github.com/Far3/financial-advisor-ai/internal/engine"
	"github.com/Far3/financial-advisor-ai/internal/interpreter"
	"github.com/Far3/financial-advisor-ai/internal/llm"
	"github.com/Far3/financial-advisor-ai/internal/mailsync"
	"github.com/Far3/financial-advisor-ai/internal/memory"
	"github.com/Far3/financial-advisor-ai/internal/monitor"
	"github.com/Far3/financial-advisor-ai/internal/policy"
	"github.com/Far3/financial-advisor-ai/internal/telemetry"
)

// application is the fully wired object graph shared by the commands.
// Services that need a chat model are nil when opened without one.
type application struct {
	cfg       config.AppConfig
	store     *memory.SQLiteStore
	telemetry telemetry.Client
	google    *google.Client
	hubspot   *hubspot.Client
	gate      *policy.Engine
	engine    *engine.Engine
	gmailSync *mailsync.Gmail
	crmSync   *mailsync.HubSpot
	monitor   *monitor.Monitor
	assistant *assistant.Assistant
}

type appOptions struct {
	// withModel builds the interpreter and assistant, which need an LLM key.
	withModel bool
}

// openStore opens only the database, for commands that never call out.
func openStore() (*memory.SQLiteStore, config.AppConfig, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, config.AppConfig{}, err
	}
	if err := config.EnsureDBDir(cfg.DB.Path); err != nil {
		return nil, cfg, fmt.Errorf("create data dir: %w", err)
	}
	store, err := memory.NewSQLiteStore(cfg.DB.Path)
	if err != nil {
		return nil, cfg, fmt.Errorf("open store at %s: %w", cfg.DB.Path, err)
	}
	return store, cfg, nil
}

// newApplication wires adapters, engine, monitor and assistant from config.
func newApplication(ctx context.Context, opts appOptions) (*application, error) {
	store, cfg, err := openStore()
	if err != nil {
		return nil, err
	}
	app := &application{cfg: cfg, store: store}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	host, _ := os.Hostname()
	app.telemetry, err = telemetry.New(telemetry.ClientConfig{
		APIKey:     cfg.Telemetry.PostHogKey,
		DistinctID: host,
		Version:    version,
	})
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
		app.telemetry = telemetry.NewNoopClient()
	}

	loc := cfg.Scheduling.Location()
	app.google = google.New(google.Config{
		GmailBase:    cfg.Google.APIBase,
		CalendarBase: cfg.Google.CalendarBase,
		Timeout:      cfg.Adapters.Timeout,
		ProbeTimeout: cfg.Adapters.ProbeTimeout,
		Location:     loc,
	})
	app.hubspot = hubspot.New(hubspot.Config{
		APIBase:      cfg.HubSpot.APIBase,
		ClientID:     cfg.HubSpot.ClientID,
		ClientSecret: cfg.HubSpot.ClientSecret,
		Timeout:      cfg.Adapters.Timeout,
		ProbeTimeout: cfg.Adapters.ProbeTimeout,
	})

	app.gate, err = policy.NewEngine(policy.EngineConfig{PoliciesDir: cfg.Policy.Dir})
	if err != nil {
		return nil, fmt.Errorf("load outbound policy: %w", err)
	}

	app.gmailSync = mailsync.NewGmail(app.google, store)
	app.crmSync = mailsync.NewHubSpot(app.hubspot, store)

	if !opts.withModel {
		ok = true
		return app, nil
	}

	llmCfg, err := config.LoadLLMConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	chatModel, err := llm.NewChatModel(ctx, llmCfg)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	completer := llm.NewCompleter(chatModel, llmCfg.Timeout)

	interp := interpreter.New(completer,
		interpreter.WithLocation(loc),
		interpreter.WithPromptsDir(cfg.Prompts.Dir),
	)
	app.engine = engine.New(engine.Deps{
		Store:       store,
		Mailer:      app.google,
		Calendar:    app.google,
		Interpreter: interp,
		Gate:        app.gate,
		Telemetry:   app.telemetry,
	}, engineConfig(cfg))

	app.monitor = monitor.New(store, app.engine, app.gmailSync, app.telemetry, monitorConfig(cfg))

	app.assistant = assistant.New(assistant.Deps{
		Store:     store,
		Completer: completer,
		Mailer:    app.google,
		Calendar:  app.google,
		CRM:       app.hubspot,
		Scheduler: app.engine,
		Gate:      app.gate,
	}, assistant.WithLocation(loc), assistant.WithPromptsDir(cfg.Prompts.Dir))

	ok = true
	return app, nil
}

// newOperatorEngine builds an engine able to fail tasks without a chat model.
func newOperatorEngine(store *memory.SQLiteStore, cfg config.AppConfig) *engine.Engine {
	return engine.New(engine.Deps{Store: store}, engineConfig(cfg))
}

func engineConfig(cfg config.AppConfig) engine.Config {
	return engine.Config{
		Location:          cfg.Scheduling.Location(),
		RangeDays:         cfg.Scheduling.RangeDays,
		MaxCandidates:     cfg.Scheduling.MaxCandidates,
		Presented:         cfg.Scheduling.Presented,
		DefaultDuration:   time.Duration(cfg.Scheduling.DefaultDuration) * time.Minute,
		MaxClarifications: cfg.Engine.MaxClarifications,
	}
}

func monitorConfig(cfg config.AppConfig) monitor.Config {
	return monitor.Config{
		Lookback:    cfg.Scan.Lookback,
		Concurrency: cfg.Scan.Concurrency,
		SyncFirst:   cfg.Scan.SyncFirst,
	}
}

func (a *application) Close() {
	if a.telemetry != nil {
		_ = a.telemetry.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
