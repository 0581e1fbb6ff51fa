package rxnorm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxguard/rxguard/internal/cache"
)

func rxnav(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/rxcui.json", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("search"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("name") {
		case "warfarin":
			_, _ = w.Write([]byte(`{"idGroup":{"name":"warfarin","rxnormId":["11289"]}}`))
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`{"idGroup":{"name":"nothing"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolve(t *testing.T) {
	var calls atomic.Int32
	srv := rxnav(t, &calls)
	client := NewClient(srv.URL+"/", cache.NewLRUCache(10), time.Second, 0)
	ctx := context.Background()

	id, err := client.Resolve(ctx, "  Warfarin ")
	require.NoError(t, err)
	assert.Equal(t, "11289", id)

	id, err = client.Resolve(ctx, "warfarin")
	require.NoError(t, err)
	assert.Equal(t, "11289", id)
	assert.Equal(t, int32(1), calls.Load(), "second lookup is served from cache")
}

func TestResolveCachesMisses(t *testing.T) {
	var calls atomic.Int32
	srv := rxnav(t, &calls)
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer redisCache.Close()

	client := NewClient(srv.URL, redisCache, time.Second, 0)
	ctx := context.Background()

	id, err := client.Resolve(ctx, "madeupzole")
	require.NoError(t, err)
	assert.Empty(t, id)

	assert.True(t, mr.Exists("rxguard:rxnorm:madeupzole"))
	assert.Equal(t, MissTTL, mr.TTL("rxguard:rxnorm:madeupzole"))

	_, err = client.Resolve(ctx, "madeupzole")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = client.Resolve(ctx, "warfarin")
	require.NoError(t, err)
	assert.Equal(t, HitTTL, mr.TTL("rxguard:rxnorm:warfarin"))
}

func TestResolveServiceError(t *testing.T) {
	var calls atomic.Int32
	srv := rxnav(t, &calls)
	lru := cache.NewLRUCache(10)
	client := NewClient(srv.URL, lru, time.Second, 0)

	_, err := client.Resolve(context.Background(), "broken")
	assert.Error(t, err)

	val, _ := lru.Get(context.Background(), cache.Key("rxnorm", "broken"))
	assert.Nil(t, val, "failures are not cached")
}

func TestResolveWithoutCache(t *testing.T) {
	var calls atomic.Int32
	srv := rxnav(t, &calls)
	client := NewClient(srv.URL, nil, time.Second, 0)

	id, err := client.Resolve(context.Background(), "warfarin")
	require.NoError(t, err)
	assert.Equal(t, "11289", id)

	id, err = client.Resolve(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, int32(1), calls.Load())
}
