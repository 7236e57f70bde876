package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaverhq/palaver/pkg/flow"
)

// RunStateStoreContract verifies a StateStore implementation against
// the interface contract. Adapter test packages call it with their
// concrete store.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	sessionID := "contract-session-" + time.Now().Format("20060102150405.000")

	t.Run("SaveAndLoad", func(t *testing.T) {
		fc := flow.NewContext("demo", "start")
		fc.Answers["name"] = "Ada"
		fc.PendingField = "age"
		fc.PathVotes["tennis"] = 1
		fc.Record("start", "answer", "Ada", "")

		require.NoError(t, store.Save(ctx, sessionID, fc))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, fc.FlowID, loaded.FlowID)
		assert.Equal(t, fc.CurrentNodeID, loaded.CurrentNodeID)
		assert.Equal(t, "Ada", loaded.Answers["name"])
		assert.Equal(t, "age", loaded.PendingField)
		assert.Equal(t, 1, loaded.PathVotes["tennis"])
		assert.Len(t, loaded.History, 1)
	})

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+sessionID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, sessionID, flow.NewContext("demo", "start")))
		require.NoError(t, store.Delete(ctx, sessionID))
		_, err := store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("List", func(t *testing.T) {
		a, b := sessionID+"-a", sessionID+"-b"
		require.NoError(t, store.Save(ctx, a, flow.NewContext("demo", "start")))
		require.NoError(t, store.Save(ctx, b, flow.NewContext("demo", "start")))

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, a)
		assert.Contains(t, ids, b)
	})
}
