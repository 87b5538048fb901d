package memory

import (
	"context"
	"testing"
	"time"

	"github.com/leafsii/leafsii-dsc/pkg/kv"
	"github.com/leafsii/leafsii-dsc/pkg/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	factory := func(t *testing.T) kv.Store {
		return New(0) // Disable janitor for deterministic tests
	}

	kvtest.RunConformanceTests(t, factory)
}

func TestMemoryStoreWithJanitor(t *testing.T) {
	store := New(10 * time.Millisecond)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "test:janitor", []byte("test"), 20*time.Millisecond))

	_, err := store.Get(ctx, "test:janitor")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, present := store.entries["test:janitor"]
		return !present
	}, time.Second, 10*time.Millisecond, "janitor should evict the expired key")
}

func TestFactoryFallsBackToMemory(t *testing.T) {
	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*Store)
	assert.True(t, ok)

	_, err = kv.NewStoreFromConfig(kv.Config{Backend: "etcd"})
	assert.Error(t, err)
}
