package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentic-work/chatcore/store"
)

func TestLessOrdersByTimestampThenRolePriority(t *testing.T) {
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	assistant := store.Message{Role: "assistant", Timestamp: base}
	user := store.Message{Role: "user", Timestamp: base}

	require.True(t, store.Less(assistant, user))
	require.False(t, store.Less(user, assistant))
}

func TestLessOrdersByTimestampWhenRolesDiffer(t *testing.T) {
	early := store.Message{Role: "user", Timestamp: time.Unix(100, 0)}
	late := store.Message{Role: "assistant", Timestamp: time.Unix(200, 0)}

	require.True(t, store.Less(early, late))
	require.False(t, store.Less(late, early))
}

func TestRolePriorityAssistantBeforeUser(t *testing.T) {
	require.Less(t, store.RolePriority("assistant"), store.RolePriority("user"))
}
