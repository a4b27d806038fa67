package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

// PrintError prints a user-facing message, or the technical error when --verbose is set.
func PrintError(userMsg string, technicalErr error) {
	if viper.GetBool("verbose") && technicalErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", technicalErr)
		return
	}
	fmt.Fprintln(os.Stderr, userMsg)
}

// LogError prints only in verbose mode.
func LogError(msg string, err error) {
	if !viper.GetBool("verbose") {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[DEBUG] %s: %v\n", msg, err)
		return
	}
	fmt.Fprintf(os.Stderr, "[DEBUG] %s\n", msg)
}

// userMessage turns a taxonomy error into a hint for the operator.
func userMessage(action string, err error) string {
	switch {
	case errors.Is(err, task.ErrNotConnected):
		return fmt.Sprintf("%s failed: the account is not connected. Add a token with 'advisor owner add'.", action)
	case errors.Is(err, task.ErrAuthExpired):
		return fmt.Sprintf("%s failed: the stored credential has expired. Reconnect the account.", action)
	case errors.Is(err, task.ErrNotFound):
		return fmt.Sprintf("%s failed: not found.", action)
	case errors.Is(err, task.ErrValidation):
		return fmt.Sprintf("%s failed: %v", action, err)
	case errors.Is(err, task.ErrExternalService):
		return fmt.Sprintf("%s failed: an upstream service is unavailable. Try again shortly.", action)
	default:
		return fmt.Sprintf("%s failed. Re-run with --verbose for details.", action)
	}
}

// cliError carries the operator-facing text while keeping the cause for errors.Is.
type cliError struct {
	msg   string
	cause error
}

func (e *cliError) Error() string { return e.msg }
func (e *cliError) Unwrap() error { return e.cause }

// fail wraps err with a friendly message; cobra prints it and exits non-zero.
func fail(action string, err error) error {
	LogError(action, err)
	return &cliError{msg: userMessage(action, err), cause: err}
}
