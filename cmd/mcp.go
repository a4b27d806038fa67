package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Far3/financial-advisor-ai/internal/memory"
	"github.com/Far3/financial-advisor-ai/internal/monitor"
	"github.com/Far3/financial-advisor-ai/internal/task"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing scan and task tools over stdio",
	Long: `Start a Model Context Protocol server on stdio so an AI client can run the
reply scan and inspect or fail tasks. stdout carries JSON-RPC only; all
diagnostics go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

type ListTasksParams struct {
	Owner  string `json:"owner,omitempty"`
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type GetTaskParams struct {
	TaskID string `json:"task_id"`
}

type FailTaskParams struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

type RunScanParams struct{}

type mcpStore interface {
	ownerLookup
	taskIDFinder
	GetTask(id string) (*task.Task, error)
	ListTasks(f memory.TaskFilter) ([]task.Task, error)
}

// mcpTools holds the dependencies behind each tool. scan is nil when no chat model is configured.
type mcpTools struct {
	store mcpStore
	scan  func(context.Context) (monitor.ScanResult, error)
	fail  func(id, reason string) (*task.Task, error)
}

func runMCPServer(ctx context.Context) error {
	fmt.Fprintln(os.Stderr, "advisor MCP server starting...")

	app, err := newApplication(ctx, appOptions{withModel: true})
	if err != nil {
		slog.Warn("chat model unavailable; run_scan disabled", "error", err)
		app, err = newApplication(ctx, appOptions{})
		if err != nil {
			return fail("start MCP server", err)
		}
	}
	defer app.Close()

	tools := &mcpTools{store: app.store, fail: newOperatorEngine(app.store, app.cfg).Fail}
	if app.monitor != nil {
		tools.scan = app.monitor.RunScan
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "advisor-mcp", Version: version}, &mcpsdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, session *mcpsdk.ServerSession, params *mcpsdk.InitializedParams) {
			if viper.GetBool("verbose") {
				fmt.Fprintln(os.Stderr, "[DEBUG] MCP client initialized")
			}
		},
	})
	tools.register(server)

	if err := server.Run(ctx, mcpsdk.NewStdioTransport()); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func (m *mcpTools) register(server *mcpsdk.Server) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "run_scan",
		Description: "Match recent inbound email to tasks waiting for a reply and resume them. Returns how many replies were processed.",
	}, func(ctx context.Context, _ *mcpsdk.ServerSession, _ *mcpsdk.CallToolParamsFor[RunScanParams]) (*mcpsdk.CallToolResultFor[any], error) {
		return m.runScan(ctx)
	})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "list_tasks",
		Description: `List workflow tasks, newest first. Optional: {"owner": id or email, "status": "waiting_response", "limit": 20}.`,
	}, func(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[ListTasksParams]) (*mcpsdk.CallToolResultFor[any], error) {
		return m.listTasks(params.Arguments)
	})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_task",
		Description: `Get one task with context and history. Required: {"task_id": full id or unique prefix}.`,
	}, func(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[GetTaskParams]) (*mcpsdk.CallToolResultFor[any], error) {
		return m.getTask(params.Arguments)
	})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "fail_task",
		Description: `Mark a non-terminal task failed so it stops waiting. Required: {"task_id"}; optional {"reason"}.`,
	}, func(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[FailTaskParams]) (*mcpsdk.CallToolResultFor[any], error) {
		return m.failTask(params.Arguments)
	})
}

func (m *mcpTools) runScan(ctx context.Context) (*mcpsdk.CallToolResultFor[any], error) {
	if m.scan == nil {
		return mcpErrorResponse(fmt.Errorf("run_scan needs a configured chat model (set llm.provider and its API key)"))
	}
	res, err := m.scan(ctx)
	if err != nil {
		return mcpErrorResponse(err)
	}
	return mcpJSONResponse(res)
}

func (m *mcpTools) listTasks(p ListTasksParams) (*mcpsdk.CallToolResultFor[any], error) {
	f := memory.TaskFilter{Limit: p.Limit}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if p.Owner != "" {
		o, err := resolveOwner(m.store, p.Owner)
		if err != nil {
			return mcpErrorResponse(err)
		}
		f.OwnerID = o.ID
	}
	if p.Status != "" {
		st, err := task.ParseStatus(p.Status)
		if err != nil {
			return mcpErrorResponse(err)
		}
		f.Status = st
	}
	tasks, err := m.store.ListTasks(f)
	if err != nil {
		return mcpErrorResponse(err)
	}
	if len(tasks) == 0 {
		return mcpTextResponse("No tasks match.")
	}
	var sb strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&sb, "- %s [%s] %s", t.ID, t.Status, t.Type)
		if t.WaitingFor != "" {
			fmt.Fprintf(&sb, " (%s)", t.WaitingFor)
		}
		sb.WriteString("\n")
	}
	return mcpTextResponse(sb.String())
}

func (m *mcpTools) getTask(p GetTaskParams) (*mcpsdk.CallToolResultFor[any], error) {
	id, err := resolveTaskID(m.store, p.TaskID)
	if err != nil {
		return mcpErrorResponse(err)
	}
	t, err := m.store.GetTask(id)
	if err != nil {
		return mcpErrorResponse(err)
	}
	return mcpJSONResponse(t)
}

func (m *mcpTools) failTask(p FailTaskParams) (*mcpsdk.CallToolResultFor[any], error) {
	id, err := resolveTaskID(m.store, p.TaskID)
	if err != nil {
		return mcpErrorResponse(err)
	}
	t, err := m.fail(id, p.Reason)
	if err != nil {
		return mcpErrorResponse(err)
	}
	return mcpTextResponse(fmt.Sprintf("Task %s is now %s.", t.ID, t.Status))
}

func mcpTextResponse(text string) (*mcpsdk.CallToolResultFor[any], error) {
	return &mcpsdk.CallToolResultFor[any]{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}, nil
}

func mcpJSONResponse(v any) (*mcpsdk.CallToolResultFor[any], error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpErrorResponse(err)
	}
	return mcpTextResponse(string(b))
}

// mcpErrorResponse reports a tool failure in the result so the client model can react to it.
func mcpErrorResponse(err error) (*mcpsdk.CallToolResultFor[any], error) {
	text := err.Error()
	if kind := task.Kind(err); kind != task.KindInternal {
		text = fmt.Sprintf("%s (%s)", text, kind)
	}
	return &mcpsdk.CallToolResultFor[any]{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		IsError: true,
	}, nil
}
