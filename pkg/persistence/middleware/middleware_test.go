package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/aretw0/convengine/pkg/adapters/memory"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/persistence/middleware"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

func conversation() *domain.Conversation {
	c := domain.NewConversation("c1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.Intent = "ORDER"
	c.State = "PAYMENT"
	c.LastUserText = "my card is 4111"
	c.Context["card"] = map[string]any{"number": "4111", "brand": "visa"}
	c.Context["email"] = "ada@example.com"
	return c
}

func encrypted(t *testing.T, next ports.ConversationStore, cfg middleware.EncryptionConfig) ports.ConversationStore {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	require.NoError(t, err)
	return mw(next)
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	ports.RunConversationStoreContract(t, encrypted(t, memory.NewStore(), middleware.EncryptionConfig{ActiveKey: generateKey(t)}))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewStore()
	store := encrypted(t, raw, middleware.EncryptionConfig{ActiveKey: generateKey(t)})

	require.NoError(t, store.Save(ctx, conversation()))

	stored, err := raw.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, stored.Intent)
	assert.Empty(t, stored.LastUserText)
	assert.NotContains(t, stored.Context, "email")
	assert.Contains(t, stored.Context, "__encrypted__")

	loaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "PAYMENT", loaded.State)
	assert.Equal(t, "ada@example.com", loaded.Context["email"])
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewStore()
	oldKey, newKey := generateKey(t), generateKey(t)

	require.NoError(t, encrypted(t, raw, middleware.EncryptionConfig{ActiveKey: oldKey}).Save(ctx, conversation()))

	_, err := encrypted(t, raw, middleware.EncryptionConfig{ActiveKey: newKey}).Load(ctx, "c1")
	assert.ErrorContains(t, err, "failed to decrypt")

	rotated := encrypted(t, raw, middleware.EncryptionConfig{ActiveKey: newKey, FallbackKeys: [][]byte{oldKey}})
	loaded, err := rotated.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "ORDER", loaded.Intent)

	require.NoError(t, rotated.Save(ctx, loaded))
	_, err = encrypted(t, raw, middleware.EncryptionConfig{ActiveKey: newKey}).Load(ctx, "c1")
	assert.NoError(t, err, "saving re-encrypts with the active key")
}

func TestEncryptionMiddleware_RejectsPlainData(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewStore()
	require.NoError(t, raw.Save(ctx, conversation()))

	_, err := encrypted(t, raw, middleware.EncryptionConfig{ActiveKey: generateKey(t)}).Load(ctx, "c1")
	assert.ErrorContains(t, err, "missing encrypted data envelope")
}

func TestEncryptionMiddleware_InvalidKeys(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short")})
	assert.Error(t, err)

	_, err = middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    generateKey(t),
		FallbackKeys: [][]byte{[]byte("short")},
	})
	assert.ErrorContains(t, err, "fallback key #1")
}

func TestDecodeKey(t *testing.T) {
	key := generateKey(t)
	got, err := middleware.DecodeKey(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = middleware.DecodeKey("not base64!")
	assert.Error(t, err)
	_, err = middleware.DecodeKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorContains(t, err, "want 32")
}

func TestPIIMiddleware(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewStore()
	mw, err := middleware.NewPIIMiddleware([]string{"^email$", "(?i)number"})
	require.NoError(t, err)
	store := mw(raw)

	conv := conversation()
	require.NoError(t, store.Save(ctx, conv))

	stored, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, stored.Context["email"])
	assert.Equal(t, map[string]any{"number": middleware.Mask, "brand": "visa"}, stored.Context["card"])

	assert.Equal(t, "ada@example.com", conv.Context["email"], "the caller's conversation is not modified")
	assert.Equal(t, "4111", conv.Context["card"].(map[string]any)["number"])

	_, err = middleware.NewPIIMiddleware([]string{"("})
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewStore()
	pii, err := middleware.NewPIIMiddleware([]string{"email"})
	require.NoError(t, err)
	enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)

	store := middleware.Chain(raw, pii, enc)
	require.NoError(t, store.Save(ctx, conversation()))

	loaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, loaded.Context["email"], "masking runs before encryption")

	stored, err := raw.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Contains(t, stored.Context, "__encrypted__")
}
