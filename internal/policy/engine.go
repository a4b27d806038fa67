package policy

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/spf13/afero"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

// OutboundPackage is the Rego package every outbound rule lives in.
const OutboundPackage = "advisor.outbound"

//go:embed outbound.rego
var builtinOutboundPolicy string

// Engine evaluates Rego policies locally; no network calls are made.
type Engine struct {
	mu            sync.RWMutex
	policies      []*PolicyFile
	policyPackage string
}

// EngineConfig holds configuration for creating an Engine.
type EngineConfig struct {
	// PoliciesDir holds extra .rego files. Empty means built-in rules only.
	PoliciesDir string
	// PolicyPackage defaults to OutboundPackage.
	PolicyPackage string
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// SkipBuiltin leaves out the embedded outbound rules.
	SkipBuiltin bool
}

// NewEngine loads the built-in rules plus any files under cfg.PoliciesDir.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.PolicyPackage == "" {
		cfg.PolicyPackage = OutboundPackage
	}

	var policies []*PolicyFile
	if !cfg.SkipBuiltin {
		policies = append(policies, &PolicyFile{Name: "outbound", Path: "builtin/outbound.rego", Content: builtinOutboundPolicy})
	}
	extra, err := NewLoader(cfg.Fs, cfg.PoliciesDir).LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	for _, p := range extra {
		if err := ValidatePolicy(p.Content); err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.Path, err)
		}
	}
	policies = append(policies, extra...)

	return &Engine{policies: policies, policyPackage: cfg.PolicyPackage}, nil
}

// PolicyNames returns the names of all loaded policies.
func (e *Engine) PolicyNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.policies))
	for i, p := range e.policies {
		names[i] = p.Name
	}
	return names
}

// AddPolicy adds Rego source at runtime.
func (e *Engine) AddPolicy(name, content string) error {
	if err := ValidatePolicy(content); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append(e.policies, &PolicyFile{Name: name, Path: name + ".rego", Content: content})
	return nil
}

// Evaluate queries the deny and warn sets of the policy package for input.
// Any deny string makes the decision a deny.
func (e *Engine) Evaluate(ctx context.Context, input any) (*Decision, error) {
	e.mu.RLock()
	modules := make([]func(*rego.Rego), len(e.policies))
	for i, p := range e.policies {
		modules[i] = rego.Module(p.Path, p.Content)
	}
	e.mu.RUnlock()

	decision := &Decision{
		DecisionID:  uuid.New().String(),
		PolicyPath:  e.policyPackage,
		Result:      ResultAllow,
		EvaluatedAt: time.Now().UTC(),
	}
	if len(modules) == 0 {
		return decision, nil
	}

	violations, err := e.querySet(ctx, input, "deny", modules)
	if err != nil {
		return nil, fmt.Errorf("query deny rules: %w", err)
	}
	warnings, err := e.querySet(ctx, input, "warn", modules)
	if err != nil {
		// warn rules are optional
		warnings = nil
	}

	decision.Violations = violations
	decision.Warnings = warnings
	if len(violations) > 0 {
		decision.Result = ResultDeny
	}
	return decision, nil
}

func (e *Engine) querySet(ctx context.Context, input any, ruleName string, modules []func(*rego.Rego)) ([]string, error) {
	opts := []func(*rego.Rego){
		rego.Query(fmt.Sprintf("data.%s.%s", e.policyPackage, ruleName)),
		rego.Input(input),
	}
	opts = append(opts, modules...)

	rs, err := rego.New(opts...).Eval(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "undefined") {
			return nil, nil
		}
		return nil, err
	}

	var results []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			set, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, item := range set {
				if s, ok := item.(string); ok {
					results = append(results, s)
				}
			}
		}
	}
	return results, nil
}

// CheckOutbound evaluates msg and returns an error wrapping task.ErrPolicyDenied
// when any deny rule fires. Warnings are logged.
func (e *Engine) CheckOutbound(ctx context.Context, msg OutboundMessage) error {
	decision, err := e.Evaluate(ctx, msg)
	if err != nil {
		return fmt.Errorf("evaluate outbound policy: %w", err)
	}
	for _, w := range decision.Warnings {
		slog.Warn("outbound policy warning", "owner_id", msg.OwnerID, "task_id", msg.TaskID, "kind", msg.Kind, "warning", w)
	}
	if !decision.IsAllowed() {
		slog.Info("outbound message denied", "owner_id", msg.OwnerID, "task_id", msg.TaskID, "kind", msg.Kind,
			"decision_id", decision.DecisionID, "violations", decision.Violations)
		return fmt.Errorf("%w: %s", task.ErrPolicyDenied, strings.Join(decision.Violations, "; "))
	}
	return nil
}

// ValidatePolicy checks that content compiles.
func ValidatePolicy(content string) error {
	_, err := rego.New(
		rego.Query("data"),
		rego.Module("validation.rego", content),
	).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}
