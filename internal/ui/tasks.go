package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

// RenderTaskTable writes one row per task. now drives the relative "updated" column.
func RenderTaskTable(w io.Writer, tasks []task.Task, now time.Time) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, StyleSubtle.Render("No tasks."))
		return
	}
	tbl := &Table{
		Headers:  []string{"ID", "TYPE", "STATUS", "WAITING FOR", "UPDATED"},
		MaxWidth: 48,
		CellStyle: func(col int, val string) *lipgloss.Style {
			if col != 2 {
				return nil
			}
			s := StatusStyle(task.TaskStatus(val))
			return &s
		},
	}
	for _, t := range tasks {
		tbl.Rows = append(tbl.Rows, []string{
			ShortID(t.ID),
			string(t.Type),
			string(t.Status),
			waitingAddr(t.WaitingFor),
			Ago(now, t.UpdatedAt),
		})
	}
	fmt.Fprint(w, tbl.Render())
}

// RenderTaskDetail writes every field of t plus its history.
func RenderTaskDetail(w io.Writer, t *task.Task) {
	fmt.Fprintln(w, StyleSectionTitle.Render("Task "+t.ID))
	field := func(k, v string) {
		if v == "" {
			return
		}
		fmt.Fprintf(w, "  %s %s\n", StyleSubtle.Render(fmt.Sprintf("%-12s", k+":")), v)
	}
	field("owner", t.OwnerID)
	field("type", string(t.Type))
	field("status", StatusStyle(t.Status).Render(string(t.Status)))
	field("waiting for", t.WaitingFor)
	field("last action", t.LastAction)
	field("created", t.CreatedAt.Format(time.RFC3339))
	field("updated", t.UpdatedAt.Format(time.RFC3339))
	if !t.CompletedAt.IsZero() {
		field("completed", t.CompletedAt.Format(time.RFC3339))
	}
	if reason, ok := t.Metadata["error"].(string); ok {
		field("error", StyleError.Render(reason))
	}
	if len(t.Context) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, StyleTitle.Render("Context"))
		fmt.Fprintf(w, "  %s\n", string(t.Context))
	}
	if len(t.ConversationHistory) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, StyleTitle.Render("History"))
		for _, m := range t.ConversationHistory {
			fmt.Fprintf(w, "  %s %s\n", rolePrefix(m.Role), m.Content)
		}
	}
}

func rolePrefix(r task.Role) string {
	switch r {
	case task.RoleUser:
		return StylePrefixUser.Render("user>")
	case task.RoleAssistant:
		return StylePrefixAssistant.Render("assistant>")
	default:
		return StyleSubtle.Render(string(r) + ">")
	}
}

func waitingAddr(waitingFor string) string {
	if i := strings.LastIndex(waitingFor, ": "); i >= 0 {
		return waitingFor[i+2:]
	}
	return waitingFor
}

// Ago formats the age of t relative to now, e.g. "5m ago".
func Ago(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
