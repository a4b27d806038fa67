package policy

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

func validMessage() OutboundMessage {
	return OutboundMessage{
		OwnerID: "owner-1",
		Kind:    "outreach",
		To:      "sara@example.com",
		Subject: "Meeting Request",
		Body:    "Hi Sara, would any of these times work?",
	}
}

func TestCheckOutbound_Builtin(t *testing.T) {
	engine, err := NewEngine(EngineConfig{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, engine.CheckOutbound(ctx, validMessage()))

	tests := []struct {
		name   string
		mutate func(*OutboundMessage)
		reason string
	}{
		{name: "empty body", mutate: func(m *OutboundMessage) { m.Body = "  " }, reason: "body is empty"},
		{name: "empty subject", mutate: func(m *OutboundMessage) { m.Subject = "" }, reason: "subject is empty"},
		{name: "bad recipient", mutate: func(m *OutboundMessage) { m.To = "sara" }, reason: "invalid recipient"},
		{name: "prohibited promise", mutate: func(m *OutboundMessage) { m.Body = "This fund is a Risk-Free Investment." }, reason: "prohibited promise"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validMessage()
			tt.mutate(&msg)
			err := engine.CheckOutbound(ctx, msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, task.ErrPolicyDenied)
			assert.ErrorIs(t, err, task.ErrValidation)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestEvaluate_Warnings(t *testing.T) {
	engine, err := NewEngine(EngineConfig{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)

	msg := validMessage()
	for len(msg.Body) <= 5000 {
		msg.Body += "lorem ipsum "
	}
	decision, err := engine.Evaluate(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, decision.IsAllowed())
	assert.Equal(t, []string{"message body is unusually long"}, decision.Warnings)
}

func TestNewEngine_LoadsExtraPolicies(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/etc/advisor/policies", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/etc/advisor/policies/domains.rego", []byte(`package advisor.outbound

import rego.v1

deny contains msg if {
	endswith(input.to, "@competitor.com")
	msg := "recipient domain is blocked"
}
`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/etc/advisor/policies/README.md", []byte("# ignored"), 0o644))

	engine, err := NewEngine(EngineConfig{Fs: fs, PoliciesDir: "/etc/advisor/policies"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"outbound", "domains"}, engine.PolicyNames())

	msg := validMessage()
	msg.To = "bob@competitor.com"
	err = engine.CheckOutbound(context.Background(), msg)
	assert.ErrorIs(t, err, task.ErrPolicyDenied)
	assert.Contains(t, err.Error(), "recipient domain is blocked")
}

func TestNewEngine_RejectsBrokenPolicy(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/p/broken.rego", []byte("package advisor.outbound\n\ndeny contains msg if {"), 0o644))

	_, err := NewEngine(EngineConfig{Fs: fs, PoliciesDir: "/p"})
	assert.Error(t, err)
}

func TestEvaluate_NoPolicies(t *testing.T) {
	engine, err := NewEngine(EngineConfig{Fs: afero.NewMemMapFs(), SkipBuiltin: true})
	require.NoError(t, err)

	decision, err := engine.Evaluate(context.Background(), validMessage())
	require.NoError(t, err)
	assert.True(t, decision.IsAllowed())
	assert.NotEmpty(t, decision.DecisionID)
}

func TestAddPolicy(t *testing.T) {
	engine, err := NewEngine(EngineConfig{Fs: afero.NewMemMapFs(), SkipBuiltin: true})
	require.NoError(t, err)

	require.Error(t, engine.AddPolicy("bad", "not rego"))
	require.NoError(t, engine.AddPolicy("quiet_hours", `package advisor.outbound

import rego.v1

deny contains "weekend outreach is disabled" if input.kind == "weekend"
`))

	msg := validMessage()
	msg.Kind = "weekend"
	assert.ErrorIs(t, engine.CheckOutbound(context.Background(), msg), task.ErrPolicyDenied)
}
