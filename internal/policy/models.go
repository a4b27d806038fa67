// Package policy gates outbound messages with OPA (Open Policy Agent) rules.
package policy

import "time"

// Decision is the outcome of evaluating the loaded policies against one input.
type Decision struct {
	DecisionID  string    `json:"decisionId"`
	PolicyPath  string    `json:"policyPath"`
	Result      string    `json:"result"`
	Violations  []string  `json:"violations,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Result constants.
const (
	ResultAllow = "allow"
	ResultDeny  = "deny"
)

// IsAllowed returns true if no deny rule fired.
func (d *Decision) IsAllowed() bool {
	return d.Result == ResultAllow
}

// OutboundMessage is the `input` document for the outbound package.
type OutboundMessage struct {
	OwnerID string `json:"owner_id"`
	TaskID  string `json:"task_id,omitempty"`
	Kind    string `json:"kind"` // outreach, clarification, confirmation, assistant
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
