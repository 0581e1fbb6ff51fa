package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxguard/rxguard/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = cache.Set(ctx, "key3", []byte("old"), time.Minute)
		_ = cache.Set(ctx, "key3", []byte("new"), time.Minute)

		val, _ := cache.Get(ctx, "key3")
		if string(val) != "new" {
			t.Errorf("expected 'new', got '%s'", string(val))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after TTL expiration")
		}
	})

	t.Run("RequiresKey", func(t *testing.T) {
		if _, err := cache.Get(ctx, ""); err == nil {
			t.Error("expected error for empty key on Get")
		}
		if err := cache.Set(ctx, "", []byte("v"), time.Minute); err == nil {
			t.Error("expected error for empty key on Set")
		}
	})
}

func TestLRUEviction(t *testing.T) {
	cache := NewLRUCache(3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_ = cache.Set(ctx, fmt.Sprintf("key%d", i), []byte("v"), time.Minute)
	}

	// Touch key1 so key2 becomes the least recently used.
	_, _ = cache.Get(ctx, "key1")
	_ = cache.Set(ctx, "key4", []byte("v"), time.Minute)

	if val, _ := cache.Get(ctx, "key2"); val != nil {
		t.Error("expected key2 to be evicted")
	}
	for _, key := range []string{"key1", "key3", "key4"} {
		if val, _ := cache.Get(ctx, key); val == nil {
			t.Errorf("expected %s to survive eviction", key)
		}
	}

	size, capacity := cache.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected stats 3/3, got %d/%d", size, capacity)
	}
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cache, err := NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Set(ctx, "rxnorm:warfarin", []byte(`"11289"`), time.Hour))
	assert.True(t, mr.Exists("rxguard:rxnorm:warfarin"), "keys are namespaced")

	val, err := cache.Get(ctx, "rxnorm:warfarin")
	require.NoError(t, err)
	assert.Equal(t, `"11289"`, string(val))

	miss, err := cache.Get(ctx, "rxnorm:unknown")
	require.NoError(t, err)
	assert.Nil(t, miss)

	mr.FastForward(2 * time.Hour)
	expired, err := cache.Get(ctx, "rxnorm:warfarin")
	require.NoError(t, err)
	assert.Nil(t, expired)

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, cache.Delete(ctx, "k"))
	assert.False(t, mr.Exists("rxguard:k"))

	assert.NoError(t, cache.Ping(ctx))
}

func TestRedisCacheUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(addr, "", 0)
	assert.Error(t, err)
}

func TestTwoPhaseCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cache, err := NewTwoPhaseCache(domain.CacheConfig{
		Type:           "redis",
		RedisAddr:      mr.Addr(),
		EnableTwoPhase: true,
		LocalMaxSize:   10,
		LocalTTL:       time.Minute,
	})
	require.NoError(t, err)
	defer cache.Close()

	t.Run("WritesBothTiers", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "a", []byte("1"), time.Hour))
		assert.True(t, mr.Exists("rxguard:a"))

		size, _ := cache.Stats()
		assert.Equal(t, 1, size)
	})

	t.Run("PopulatesL1FromL2", func(t *testing.T) {
		require.NoError(t, mr.Set("rxguard:b", "2"))

		val, err := cache.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "2", string(val))

		// Served from L1 once Redis no longer has it.
		mr.Del("rxguard:b")
		val, err = cache.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "2", string(val))
	})

	t.Run("DeleteBothTiers", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "c", []byte("3"), time.Hour))
		require.NoError(t, cache.Delete(ctx, "c"))

		val, err := cache.Get(ctx, "c")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	assert.NoError(t, cache.Ping(ctx))
}

func TestJSONHelpers(t *testing.T) {
	cache := NewLRUCache(10)
	ctx := context.Background()

	type entry struct {
		ID    string `json:"id"`
		Found bool   `json:"found"`
	}

	key := Key("rxnorm", "warfarin")
	if key != "rxnorm:warfarin" {
		t.Fatalf("unexpected key %q", key)
	}

	var out entry
	hit, err := GetJSON(ctx, cache, key, &out)
	if err != nil || hit {
		t.Fatalf("expected clean miss, got hit=%v err=%v", hit, err)
	}

	if err := SetJSON(ctx, cache, key, entry{ID: "11289", Found: true}, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	hit, err = GetJSON(ctx, cache, key, &out)
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if out.ID != "11289" || !out.Found {
		t.Errorf("unexpected decoded value: %+v", out)
	}

	_ = cache.Set(ctx, "bad", []byte("{not json"), time.Minute)
	if _, err := GetJSON(ctx, cache, "bad", &out); err == nil {
		t.Error("expected decode error for corrupt entry")
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryCache", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("RedisCache", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cache, err := New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr()})
		require.NoError(t, err)
		defer cache.Close()

		_, ok := cache.(*RedisCache)
		assert.True(t, ok, "expected RedisCache for redis type")
	})

	t.Run("TwoPhaseCache", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cache, err := New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr(), EnableTwoPhase: true})
		require.NoError(t, err)
		defer cache.Close()

		_, ok := cache.(*TwoPhaseCache)
		assert.True(t, ok, "expected TwoPhaseCache when two-phase is enabled")
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "unsupported",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}
