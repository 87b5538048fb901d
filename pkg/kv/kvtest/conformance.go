// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"testing"
	"time"

	"github.com/leafsii/leafsii-dsc/pkg/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

type storeTest struct {
	name string
	test func(t *testing.T, store kv.Store)
}

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	groups := []struct {
		name  string
		tests []storeTest
	}{
		{"StringOperations", []storeTest{
			{"SetGet", testSetGet},
			{"GetNonExistent", testGetNonExistent},
			{"Overwrite", testOverwrite},
		}},
		{"KeyOperations", []storeTest{
			{"Del", testDel},
			{"Exists", testExists},
		}},
		{"TTLOperations", []storeTest{
			{"SetWithTTL", testSetWithTTL},
			{"Expire", testExpire},
			{"ExpireMissing", testExpireMissing},
		}},
		{"ListOperations", []storeTest{
			{"RPushLRange", testRPushLRange},
			{"LRangeNegative", testLRangeNegative},
			{"LTrim", testLTrim},
		}},
		{"HealthCheck", []storeTest{
			{"Ping", testPing},
		}},
	}

	for _, g := range groups {
		t.Run(g.name, func(t *testing.T) {
			for _, tt := range g.tests {
				t.Run(tt.name, func(t *testing.T) {
					store := factory(t)
					defer store.Close()
					tt.test(t, store)
				})
			}
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	value := []byte("hello world")

	require.NoError(t, store.Set(ctx, "test:setget", value))

	result, err := store.Get(ctx, "test:setget")
	require.NoError(t, err)
	assert.Equal(t, value, result)
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	_, err := store.Get(context.Background(), "test:nonexistent")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "test:overwrite", []byte("one")))
	require.NoError(t, store.Set(ctx, "test:overwrite", []byte("two")))

	result, err := store.Get(ctx, "test:overwrite")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), result)
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "test:del1", []byte("test")))
	require.NoError(t, store.Set(ctx, "test:del2", []byte("test")))

	deleted, err := store.Del(ctx, "test:del1", "test:missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.Get(ctx, "test:del1")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	_, err = store.Get(ctx, "test:del2")
	assert.NoError(t, err)
}

func testExists(t *testing.T, store kv.Store) {
	ctx := context.Background()

	count, err := store.Exists(ctx, "test:exists")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, store.Set(ctx, "test:exists", []byte("test")))
	_, err = store.RPush(ctx, "test:exists:list", []byte("a"))
	require.NoError(t, err)

	count, err = store.Exists(ctx, "test:exists", "test:exists:list", "test:nope")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func testSetWithTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "test:ttl", []byte("short"), 50*time.Millisecond))

	_, err := store.Get(ctx, "test:ttl")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "test:ttl")
		return err == kv.ErrNotFound
	}, 2*time.Second, 20*time.Millisecond)
}

func testExpire(t *testing.T, store kv.Store) {
	ctx := context.Background()
	_, err := store.RPush(ctx, "test:expire", []byte("a"), []byte("b"))
	require.NoError(t, err)

	ok, err := store.Expire(ctx, "test:expire", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		n, err := store.Exists(ctx, "test:expire")
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func testExpireMissing(t *testing.T, store kv.Store) {
	ok, err := store.Expire(context.Background(), "test:expire:missing", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRPushLRange(t *testing.T, store kv.Store) {
	ctx := context.Background()

	n, err := store.RPush(ctx, "test:list", []byte("a"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.RPush(ctx, "test:list", []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	values, err := store.LRange(ctx, "test:list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, values)

	values, err = store.LRange(ctx, "test:list:missing", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func testLRangeNegative(t *testing.T, store kv.Store) {
	ctx := context.Background()
	_, err := store.RPush(ctx, "test:list:neg", []byte("1"), []byte("2"), []byte("3"), []byte("4"))
	require.NoError(t, err)

	values, err := store.LRange(ctx, "test:list:neg", -2, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("3"), []byte("4")}, values)

	values, err = store.LRange(ctx, "test:list:neg", 3, 1)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func testLTrim(t *testing.T, store kv.Store) {
	ctx := context.Background()
	_, err := store.RPush(ctx, "test:list:trim", []byte("1"), []byte("2"), []byte("3"), []byte("4"))
	require.NoError(t, err)

	require.NoError(t, store.LTrim(ctx, "test:list:trim", -2, -1))

	values, err := store.LRange(ctx, "test:list:trim", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("3"), []byte("4")}, values)
}

func testPing(t *testing.T, store kv.Store) {
	assert.NoError(t, store.Ping(context.Background()))
}
