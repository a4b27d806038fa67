package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Far3/financial-advisor-ai/internal/memory"
	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/ui"
)

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"task"},
	Short:   "Inspect and manage workflow tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return fail("list tasks", err)
		}
		defer func() { _ = store.Close() }()

		f := memory.TaskFilter{}
		f.Limit, _ = cmd.Flags().GetInt("limit")
		if owner, _ := cmd.Flags().GetString("owner"); owner != "" {
			o, err := resolveOwner(store, owner)
			if err != nil {
				return fail("list tasks", err)
			}
			f.OwnerID = o.ID
		}
		if st, _ := cmd.Flags().GetString("status"); st != "" {
			if f.Status, err = task.ParseStatus(st); err != nil {
				return fail("list tasks", err)
			}
		}

		tasks, err := store.ListTasks(f)
		if err != nil {
			return fail("list tasks", err)
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if tasks == nil {
				tasks = []task.Task{}
			}
			return json.NewEncoder(os.Stdout).Encode(tasks)
		}
		ui.RenderTaskTable(os.Stdout, tasks, time.Now())
		return nil
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task with its context and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return fail("show task", err)
		}
		defer func() { _ = store.Close() }()

		id, err := resolveTaskID(store, args[0])
		if err != nil {
			return fail("show task", err)
		}
		t, err := store.GetTask(id)
		if err != nil {
			return fail("show task", err)
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		}
		ui.RenderTaskDetail(os.Stdout, t)
		return nil
	},
}

var tasksFailCmd = &cobra.Command{
	Use:   "fail <id>",
	Short: "Mark a non-terminal task failed",
	Long: `Move a task to failed so the reply scan stops matching it. Use this to
abandon a scheduling request the client will never answer.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return fail("fail task", err)
		}
		defer func() { _ = store.Close() }()

		id, err := resolveTaskID(store, args[0])
		if err != nil {
			return fail("fail task", err)
		}
		reason, _ := cmd.Flags().GetString("reason")
		t, err := newOperatorEngine(store, cfg).Fail(id, reason)
		if err != nil {
			return fail("fail task", err)
		}
		fmt.Printf("%s task %s is now %s\n", ui.StyleSuccess.Render("✓"), t.ID, ui.StatusStyle(t.Status).Render(string(t.Status)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd, tasksFailCmd)

	tasksListCmd.Flags().String("owner", "", "owner id or email")
	tasksListCmd.Flags().String("status", "", "pending, waiting_response, in_progress, completed or failed")
	tasksListCmd.Flags().Int("limit", 50, "maximum rows")
	tasksListCmd.Flags().Bool("json", false, "print JSON")
	tasksShowCmd.Flags().Bool("json", false, "print JSON")
	tasksFailCmd.Flags().String("reason", "", "reason recorded on the task")
}

type taskIDFinder interface {
	FindTaskIDsByPrefix(prefix string) ([]string, error)
}

// resolveTaskID expands a unique id prefix to the full id.
func resolveTaskID(store taskIDFinder, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: task id required", task.ErrValidation)
	}
	ids, err := store.FindTaskIDsByPrefix(ref)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if id == ref {
			return id, nil
		}
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: no task matches %q", task.ErrNotFound, ref)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %d tasks; use more characters", task.ErrValidation, ref, len(ids))
	}
}
