package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Far3/financial-advisor-ai/internal/assistant"
	"github.com/Far3/financial-advisor-ai/internal/logger"
	"github.com/Far3/financial-advisor-ai/internal/task"
	"github.com/Far3/financial-advisor-ai/internal/ui"
)

const maxChatHistory = 20

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant as an advisor",
	Long: `Ask about recent email and contacts, send email, update HubSpot or start a
meeting-scheduling task. With a message argument the assistant answers once;
without one, an interactive session starts (exit with Ctrl-D or "exit").`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication(cmd.Context(), appOptions{withModel: true})
		if err != nil {
			return fail("chat", err)
		}
		defer app.Close()

		ref, _ := cmd.Flags().GetString("owner")
		owner, err := resolveOwner(app.store, ref)
		if err != nil {
			return fail("chat", err)
		}
		logger.SetOwner(owner.ID)

		s := &chatSession{chat: app.assistant.Chat, owner: owner, out: os.Stdout}
		if len(args) > 0 {
			return s.turn(cmd.Context(), strings.Join(args, " "))
		}
		return s.loop(cmd.Context(), os.Stdin, term.IsTerminal(int(os.Stdin.Fd())))
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("owner", "", "owner id or email")
	_ = chatCmd.MarkFlagRequired("owner")
}

type chatFunc func(ctx context.Context, owner *task.Owner, message string, history []task.Message) (assistant.Reply, error)

// chatSession keeps the running history of one CLI conversation.
type chatSession struct {
	chat    chatFunc
	owner   *task.Owner
	out     io.Writer
	history []task.Message
}

// loop reads one message per line until EOF or "exit". The prompt is only
// printed when stdin is a terminal so piped input stays clean.
func (s *chatSession) loop(ctx context.Context, in io.Reader, interactive bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(s.out, ui.StylePrefixUser.Render("you> "))
		}
		if !scanner.Scan() {
			if interactive {
				fmt.Fprintln(s.out)
			}
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := s.turn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintln(s.out, ui.StyleError.Render(userMessage("chat", err)))
		}
	}
}

func (s *chatSession) turn(ctx context.Context, message string) error {
	logger.SetLastInput(message)
	reply, err := s.chat(ctx, s.owner, message, s.history)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s %s\n", ui.StylePrefixAssistant.Render("assistant>"), reply.Response)
	if reply.TaskID != "" {
		fmt.Fprintln(s.out, ui.StyleSubtle.Render("  task "+reply.TaskID+" is waiting for a reply"))
	}

	s.history = append(s.history,
		task.Message{Role: task.RoleUser, Content: message},
		task.Message{Role: task.RoleAssistant, Content: reply.Response},
	)
	if len(s.history) > maxChatHistory {
		s.history = s.history[len(s.history)-maxChatHistory:]
	}
	return nil
}
