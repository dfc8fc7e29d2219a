package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollgate/pkg/platform/sentinel"
)

func TestSealedStore_CiphertextAtRest(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	sealed, err := NewSealed(inner, "device-secret-for-tests")
	require.NoError(t, err)

	require.NoError(t, sealed.Put(ctx, "queue:item:1", []byte("Jane Doe")))

	raw, err := inner.Get(ctx, "queue:item:1")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Jane Doe")
}

func TestSealedStore_BlobMovedToOtherKeyFails(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	sealed, err := NewSealed(inner, "device-secret-for-tests")
	require.NoError(t, err)

	require.NoError(t, sealed.Put(ctx, "queue:item:1", []byte("payload")))
	raw, err := inner.Get(ctx, "queue:item:1")
	require.NoError(t, err)
	require.NoError(t, inner.Put(ctx, "queue:item:2", raw))

	_, err = sealed.Get(ctx, "queue:item:2")
	assert.True(t, errors.Is(err, sentinel.ErrCorrupt))
}

func TestNewSealed_RejectsShortSecret(t *testing.T) {
	_, err := NewSealed(NewMemory(), "short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 16 characters")
}
