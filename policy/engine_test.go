package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentic-work/chatcore/policy"
)

func TestEngineAllowsByDefault(t *testing.T) {
	engine := policy.New(policy.Options{})
	decision, err := engine.EvaluateTool(context.Background(), policy.Input{
		UserID: "u1", ServerID: "azure", ToolName: "list_resources",
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestEngineBlocksExplicitTool(t *testing.T) {
	engine := policy.New(policy.Options{BlockTools: []string{"azure.delete_resource"}})
	decision, err := engine.EvaluateTool(context.Background(), policy.Input{
		UserID: "u1", ServerID: "azure", ToolName: "delete_resource",
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Contains(t, decision.Reason, "blocked")
}

func TestEngineAllowlistRestrictsUnlistedServer(t *testing.T) {
	engine := policy.New(policy.Options{AllowServers: []string{"azure"}})
	decision, err := engine.EvaluateTool(context.Background(), policy.Input{
		UserID: "u1", ServerID: "aws", ToolName: "list_buckets",
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestEngineAdminBypassesAllChecks(t *testing.T) {
	engine := policy.New(policy.Options{AllowServers: []string{"azure"}, BlockTools: []string{"aws.delete_bucket"}})
	decision, err := engine.EvaluateTool(context.Background(), policy.Input{
		UserID: "root", IsAdmin: true, ServerID: "aws", ToolName: "delete_bucket",
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestEvaluateResourceScopeAllowsUnrestrictedScope(t *testing.T) {
	engine := policy.New(policy.Options{})
	decision, err := engine.EvaluateResourceScope(context.Background(), policy.Input{UserID: "u1"}, "sub-123")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestEvaluateResourceScopeAllowsEmptyScope(t *testing.T) {
	engine := policy.New(policy.Options{Scopes: policy.ScopeOwners{"sub-123": {"finance"}}})
	decision, err := engine.EvaluateResourceScope(context.Background(), policy.Input{UserID: "u1", Groups: []string{"eng"}}, "")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestEvaluateResourceScopeDeniesOtherTenant(t *testing.T) {
	engine := policy.New(policy.Options{Scopes: policy.ScopeOwners{"sub-123": {"finance"}}})
	decision, err := engine.EvaluateResourceScope(context.Background(), policy.Input{UserID: "u2", Groups: []string{"eng"}}, "sub-123")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestEvaluateResourceScopeAllowsOwningGroup(t *testing.T) {
	engine := policy.New(policy.Options{Scopes: policy.ScopeOwners{"sub-123": {"finance"}}})
	decision, err := engine.EvaluateResourceScope(context.Background(), policy.Input{UserID: "u3", Groups: []string{"finance"}}, "sub-123")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestEvaluateResourceScopeAdminBypass(t *testing.T) {
	engine := policy.New(policy.Options{Scopes: policy.ScopeOwners{"sub-123": {"finance"}}})
	decision, err := engine.EvaluateResourceScope(context.Background(), policy.Input{UserID: "root", IsAdmin: true}, "sub-123")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}
