package toolinventory_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentic-work/chatcore/tools"
	"github.com/agentic-work/chatcore/toolinventory"
)

func specs() []tools.ToolSpec {
	return []tools.ToolSpec{
		{ServerID: "azure", OriginalName: "list-subscriptions", SanitizedName: "list_subscriptions"},
		{ServerID: "aws", OriginalName: "describe-instances", SanitizedName: "describe_instances"},
	}
}

func TestResolveExactMatch(t *testing.T) {
	inv := toolinventory.New(specs())
	spec, ok := inv.Resolve("list_subscriptions")
	require.True(t, ok)
	require.Equal(t, "list-subscriptions", spec.OriginalName)
}

func TestResolveNormalizedMatch(t *testing.T) {
	inv := toolinventory.New(specs())
	spec, ok := inv.Resolve("List-Subscriptions")
	require.True(t, ok)
	require.Equal(t, "list-subscriptions", spec.OriginalName)
}

func TestResolveSubstringMatch(t *testing.T) {
	inv := toolinventory.New(specs())
	spec, ok := inv.Resolve("subscriptions")
	require.True(t, ok)
	require.Equal(t, "list-subscriptions", spec.OriginalName)
}

func TestResolveTokenOverlapMatch(t *testing.T) {
	inv := toolinventory.New(specs())
	spec, ok := inv.Resolve("instances_describe")
	require.True(t, ok)
	require.Equal(t, "describe-instances", spec.OriginalName)
}

func TestResolveNoCandidateQualifies(t *testing.T) {
	inv := toolinventory.New(specs())
	_, ok := inv.Resolve("completely_unrelated_tool_name")
	require.False(t, ok)
}

func TestResolveTieBrokenLexicographically(t *testing.T) {
	inv := toolinventory.New([]tools.ToolSpec{
		{ServerID: "a", OriginalName: "orig-a", SanitizedName: "zzz_list"},
		{ServerID: "b", OriginalName: "orig-b", SanitizedName: "aaa_list"},
	})
	spec, ok := inv.Resolve("list")
	require.True(t, ok)
	require.Equal(t, "aaa_list", spec.SanitizedName)
}
