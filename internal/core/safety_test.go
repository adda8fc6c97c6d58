package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafetyGateBannedCommandAlwaysRejected(t *testing.T) {
	t.Parallel()
	g := NewSafetyGate()
	decision := g.AssessCommandSafety([]string{"rm", "-rf", "/"}, ApprovalNever, SandboxPolicy{}, false)
	require.Equal(t, SafetyReject, decision.Kind)
}

func TestSafetyGateApprovedCommandsBypassPolicy(t *testing.T) {
	t.Parallel()
	g := NewSafetyGate()
	cmd := []string{"git", "status"}
	require.False(t, g.IsApproved(cmd))

	g.Approve(cmd)
	require.True(t, g.IsApproved(cmd))

	decision := g.AssessCommandSafety(cmd, ApprovalUnlessTrusted, SandboxPolicy{Kind: SandboxWorkspaceWrite}, true)
	require.Equal(t, SafetyAutoApprove, decision.Kind)
	require.Equal(t, SandboxTypeNone, decision.Sandbox)
}

func TestSafetyGateApprovalPolicies(t *testing.T) {
	t.Parallel()
	cmd := []string{"ls"}

	cases := []struct {
		name                     string
		policy                   ApprovalPolicy
		withEscalatedPermissions bool
		wantKind                 SafetyDecisionKind
	}{
		{"never always auto-approves", ApprovalNever, true, SafetyAutoApprove},
		{"on-failure auto-approves optimistically", ApprovalOnFailure, false, SafetyAutoApprove},
		{"unless-trusted auto-approves without escalation", ApprovalUnlessTrusted, false, SafetyAutoApprove},
		{"unless-trusted asks on escalation", ApprovalUnlessTrusted, true, SafetyAskUser},
		{"on-request auto-approves without escalation", ApprovalOnRequest, false, SafetyAutoApprove},
		{"on-request asks on escalation", ApprovalOnRequest, true, SafetyAskUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewSafetyGate()
			decision := g.AssessCommandSafety(cmd, tc.policy, SandboxPolicy{Kind: SandboxWorkspaceWrite}, tc.withEscalatedPermissions)
			require.Equal(t, tc.wantKind, decision.Kind)
		})
	}
}

func TestSafetyGateUntrustedCommandRequiresApproval(t *testing.T) {
	t.Parallel()
	g := NewSafetyGate()

	decision := g.AssessSafetyForUntrustedCommand(ApprovalOnRequest, SandboxPolicy{}, false)
	require.Equal(t, SafetyAskUser, decision.Kind)

	decision = g.AssessSafetyForUntrustedCommand(ApprovalNever, SandboxPolicy{}, false)
	require.Equal(t, SafetyAutoApprove, decision.Kind)
}

func TestSafetyGateApprovedCommandsRoundTrip(t *testing.T) {
	t.Parallel()
	g := NewSafetyGate()
	g.Approve([]string{"echo", "a"})
	g.Approve([]string{"echo", "b"})

	snapshot := g.ApprovedCommands()
	require.Len(t, snapshot, 2)

	g2 := NewSafetyGate()
	g2.SetApprovedCommands(snapshot)
	require.True(t, g2.IsApproved([]string{"echo", "a"}))
	require.True(t, g2.IsApproved([]string{"echo", "b"}))
}

func TestApprovalRegistryResolveDeliversDecision(t *testing.T) {
	t.Parallel()
	r := NewApprovalRegistry()
	ch := r.Register("sub-1")
	r.Resolve("sub-1", DecisionApproved)
	require.Equal(t, DecisionApproved, Await(ch))
}

func TestApprovalRegistryClearDeniesPending(t *testing.T) {
	t.Parallel()
	r := NewApprovalRegistry()
	ch := r.Register("sub-1")
	r.Clear()
	require.Equal(t, DecisionDenied, Await(ch), "a dropped sender must read back as Denied")
}

func TestApprovalRegistryResolveUnknownIDIsNoop(t *testing.T) {
	t.Parallel()
	r := NewApprovalRegistry()
	r.Resolve("does-not-exist", DecisionApproved)
}
