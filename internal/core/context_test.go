package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateKey(t *testing.T) {
	c := ChatContext{UserID: "u1", TenantID: "t9"}
	assert.Equal(t, "u1:t9", c.RateKey())
}

func TestHasPermission(t *testing.T) {
	perms := []string{"tasks.read", "projects.read"}

	assert.True(t, HasPermission(perms, "tasks.read"))
	assert.False(t, HasPermission(perms, "tasks.write"))
	assert.True(t, HasPermission(perms, ""))
	assert.True(t, HasPermission([]string{"*"}, "tasks.write"))
	assert.True(t, HasPermission([]string{"owner"}, "clients.read"))
	assert.False(t, HasPermission(nil, "tasks.read"))
}

func TestTrimHistoryKeepsSystemMessage(t *testing.T) {
	history := []ChatMessage{{Role: RoleSystem, Content: "prompt"}}
	for i := 0; i < 9; i++ {
		history = append(history, ChatMessage{Role: RoleUser, Content: "m"})
	}

	trimmed := TrimHistory(history, 3)
	assert.Len(t, trimmed, 4)
	assert.Equal(t, RoleSystem, trimmed[0].Role)

	// No system leader: plain trailing window.
	trimmed = TrimHistory(history[1:], 3)
	assert.Len(t, trimmed, 3)
	assert.Equal(t, RoleUser, trimmed[0].Role)
}

func TestTrimHistoryNoopWhenShort(t *testing.T) {
	history := []ChatMessage{{Role: RoleUser, Content: "m"}}
	assert.Equal(t, history, TrimHistory(history, 10))
	assert.Equal(t, history, TrimHistory(history, 0))
}
