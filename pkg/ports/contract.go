package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConversationStoreContract verifies that a ConversationStore implementation
// honors the interface contract. Adapters call it from their own tests.
func RunConversationStoreContract(t *testing.T, store ConversationStore) {
	t.Helper()
	ctx := context.Background()
	convID := "contract-" + time.Now().Format("20060102150405.000000000")

	t.Run("Save and Load", func(t *testing.T) {
		conv := domain.NewConversation(convID, time.Now().UTC())
		conv.Intent = "ORDER"
		conv.State = "COLLECT"
		conv.Context["sku"] = "abc"
		conv.Context["qty"] = 2

		require.NoError(t, store.Save(ctx, conv))

		loaded, err := store.Load(ctx, convID)
		require.NoError(t, err)
		assert.Equal(t, convID, loaded.ID)
		assert.Equal(t, "ORDER", loaded.Intent)
		assert.Equal(t, "COLLECT", loaded.State)
		assert.Equal(t, "abc", loaded.Context["sku"])
		// JSON-backed stores return numbers as float64.
		assert.NotNil(t, loaded.Context["qty"])
	})

	t.Run("Load returns a copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, convID)
		require.NoError(t, err)
		loaded.Context["sku"] = "mutated"

		again, err := store.Load(ctx, convID)
		require.NoError(t, err)
		assert.Equal(t, "abc", again.Context["sku"])
	})

	t.Run("Nested context is not shared", func(t *testing.T) {
		id := convID + "-nested"
		conv := domain.NewConversation(id, time.Now().UTC())
		conv.Context["order"] = map[string]any{"item": "a"}
		require.NoError(t, store.Save(ctx, conv))
		defer func() { _ = store.Delete(ctx, id) }()

		conv.Context["order"].(map[string]any)["item"] = "saved-then-mutated"
		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "a", loaded.Context["order"].(map[string]any)["item"])

		loaded.Context["order"].(map[string]any)["item"] = "loaded-then-mutated"
		again, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "a", again.Context["order"].(map[string]any)["item"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+convID)
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})

	t.Run("List", func(t *testing.T) {
		id1, id2 := convID+"-1", convID+"-2"
		require.NoError(t, store.Save(ctx, domain.NewConversation(id1, time.Now().UTC())))
		require.NoError(t, store.Save(ctx, domain.NewConversation(id2, time.Now().UTC())))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, convID))

		_, err := store.Load(ctx, convID)
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)

		require.NoError(t, store.Delete(ctx, convID), "deleting twice is not an error")
	})
}
