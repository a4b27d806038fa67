package logger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// CrashLogDir is the crash report directory under the data dir.
	CrashLogDir = "crash_logs"

	// MaxCrashLogs is how many reports are kept.
	MaxCrashLogs = 10

	defaultBasePath = ".advisor"
)

// CrashReport is one recovered panic, written as JSON.
type CrashReport struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version"`
	Command    string    `json:"command"`
	OwnerID    string    `json:"owner_id,omitempty"`
	LastInput  string    `json:"last_input,omitempty"`
	PanicValue string    `json:"panic_value"`
	StackTrace string    `json:"stack_trace"`
	GoVersion  string    `json:"go_version"`
	OS         string    `json:"os"`
	Arch       string    `json:"arch"`
}

type crashContext struct {
	mu        sync.RWMutex
	basePath  string
	version   string
	command   string
	ownerID   string
	lastInput string
}

var crashCtx = &crashContext{}

// SetBasePath sets the data dir crash reports are written under.
func SetBasePath(path string) {
	crashCtx.mu.Lock()
	defer crashCtx.mu.Unlock()
	crashCtx.basePath = path
}

func SetVersion(version string) {
	crashCtx.mu.Lock()
	defer crashCtx.mu.Unlock()
	crashCtx.version = version
}

// SetCommand records the running CLI command.
func SetCommand(cmd string) {
	crashCtx.mu.Lock()
	defer crashCtx.mu.Unlock()
	crashCtx.command = cmd
}

// SetOwner records the advisor the command acts for.
func SetOwner(ownerID string) {
	crashCtx.mu.Lock()
	defer crashCtx.mu.Unlock()
	crashCtx.ownerID = ownerID
}

// SetLastInput records the last chat message, truncated.
func SetLastInput(input string) {
	crashCtx.mu.Lock()
	defer crashCtx.mu.Unlock()
	crashCtx.lastInput = truncate(strings.TrimSpace(input), 500)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... [truncated]"
}

// HandlePanic recovers, writes a crash report and exits with status 1.
// Usage: defer logger.HandlePanic()
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}
	report := newCrashReport(r)
	path, err := writeCrashReport(report)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[CRASH] could not write crash report: %v\n", err)
		fmt.Fprintf(os.Stderr, "[CRASH] panic: %v\n%s\n", r, report.StackTrace)
		os.Exit(1)
	}
	slog.Error("advisor crashed", "panic", report.PanicValue, "report", path)
	fmt.Fprintf(os.Stderr, "\nadvisor hit an unexpected error. Crash report saved to:\n  %s\n\n", path)
	os.Exit(1)
}

func newCrashReport(v any) CrashReport {
	crashCtx.mu.RLock()
	defer crashCtx.mu.RUnlock()
	return CrashReport{
		Timestamp:  time.Now().UTC(),
		Version:    crashCtx.version,
		Command:    crashCtx.command,
		OwnerID:    crashCtx.ownerID,
		LastInput:  crashCtx.lastInput,
		PanicValue: fmt.Sprintf("%v", v),
		StackTrace: string(debug.Stack()),
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
	}
}

func writeCrashReport(report CrashReport) (string, error) {
	dir := crashDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create crash dir: %w", err)
	}
	if err := pruneCrashReports(dir, MaxCrashLogs-1); err != nil {
		slog.Warn("prune crash reports failed", "error", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode crash report: %w", err)
	}
	path := crashPath(report.Timestamp)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

func crashDir() string {
	crashCtx.mu.RLock()
	base := crashCtx.basePath
	crashCtx.mu.RUnlock()
	if base == "" {
		base = defaultBasePath
	}
	return filepath.Join(base, CrashLogDir)
}

func crashPath(t time.Time) string {
	return filepath.Join(crashDir(), fmt.Sprintf("crash_%s.json", t.UTC().Format("20060102_150405")))
}

func isCrashFile(name string) bool {
	return strings.HasPrefix(name, "crash_") && strings.HasSuffix(name, ".json")
}

// pruneCrashReports deletes the oldest reports so at most keep remain.
func pruneCrashReports(dir string, keep int) error {
	names, err := crashFiles(dir)
	if err != nil || len(names) <= keep {
		return err
	}
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

// crashFiles lists report names oldest first. The timestamp in the name sorts lexically.
func crashFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isCrashFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListCrashReports returns report paths, oldest first.
func ListCrashReports() ([]string, error) {
	dir := crashDir()
	names, err := crashFiles(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// ReadCrashReport decodes the report at path.
func ReadCrashReport(path string) (CrashReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CrashReport{}, err
	}
	var report CrashReport
	if err := json.Unmarshal(data, &report); err != nil {
		return CrashReport{}, fmt.Errorf("decode crash report %s: %w", path, err)
	}
	return report, nil
}
