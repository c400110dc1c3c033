package items

import (
	"testing"
	"time"

	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAccessUpdatesSortedByID(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Replay order differs from id order on purpose.
	items := make([]model.MemoryItem, 0, 3)
	for i, id := range []string{"msg-c", "msg-a", "msg-b"} {
		m := &model.ChatMessage{SessionID: "sess-1", Role: "user", Content: "hello"}
		m.SetID(id)
		m.AccessCount = int64(i + 1)
		items = append(items, m)
	}

	updates := sessionAccessUpdates(items, now)
	require.Len(t, updates, 3)
	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
		assert.Equal(t, model.KindChat, u.Kind)
		assert.Equal(t, now, u.AccessedAt)
		assert.False(t, u.Rehearse)
	}
	assert.Equal(t, []string{"msg-a", "msg-b", "msg-c"}, ids)

	// Observed counts follow their item through the reorder.
	assert.Equal(t, int64(2), updates[0].Observed, "msg-a was replayed second")
	assert.Equal(t, int64(3), updates[1].Observed)
	assert.Equal(t, int64(1), updates[2].Observed)
}
