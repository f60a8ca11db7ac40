package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BeaconRelay/pkg/cache"
)

func newGoogleServer(t *testing.T, status, address string, calls *int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		assert.NotEmpty(t, r.URL.Query().Get("latlng"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"` + status + `","results":[{"formatted_address":"` + address + `"}]}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDisabledResolver(t *testing.T) {
	addr, ok := Disabled{}.Resolve(context.Background(), 52.52, 13.405)
	assert.False(t, ok)
	assert.Empty(t, addr)
}

func TestNewGoogleWithoutKeyIsDisabled(t *testing.T) {
	resolver := NewGoogle(GoogleConfig{})
	_, ok := resolver.(Disabled)
	assert.True(t, ok)
}

func TestGoogleResolve(t *testing.T) {
	var calls int64
	server := newGoogleServer(t, "OK", "Unter den Linden 1, Berlin", &calls)

	resolver := NewGoogle(GoogleConfig{APIKey: "test-key", BaseURL: server.URL})
	addr, ok := resolver.Resolve(context.Background(), 52.52, 13.405)
	require.True(t, ok)
	assert.Equal(t, "Unter den Linden 1, Berlin", addr)
}

func TestGoogleResolveZeroResults(t *testing.T) {
	var calls int64
	server := newGoogleServer(t, "ZERO_RESULTS", "", &calls)

	resolver := NewGoogle(GoogleConfig{APIKey: "test-key", BaseURL: server.URL})
	_, ok := resolver.Resolve(context.Background(), 0.0, 0.0)
	assert.False(t, ok)
}

func TestGoogleResolveServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	resolver := NewGoogle(GoogleConfig{APIKey: "test-key", BaseURL: server.URL})
	_, ok := resolver.Resolve(context.Background(), 52.52, 13.405)
	assert.False(t, ok)
}

func TestGoogleResolveUnreachable(t *testing.T) {
	resolver := NewGoogle(GoogleConfig{
		APIKey:  "test-key",
		BaseURL: "http://127.0.0.1:1",
		Timeout: 200 * time.Millisecond,
	})
	_, ok := resolver.Resolve(context.Background(), 52.52, 13.405)
	assert.False(t, ok)
}

func newMemoryCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewCache(cache.Config{Type: "local"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachedResolverHitsCacheOnSecondCall(t *testing.T) {
	var calls int64
	server := newGoogleServer(t, "OK", "Unter den Linden 1, Berlin", &calls)

	resolver := NewCached(
		NewGoogle(GoogleConfig{APIKey: "test-key", BaseURL: server.URL}),
		newMemoryCache(t),
		time.Minute,
	)

	ctx := context.Background()
	addr, ok := resolver.Resolve(ctx, 52.52, 13.405)
	require.True(t, ok)
	assert.Equal(t, "Unter den Linden 1, Berlin", addr)

	addr, ok = resolver.Resolve(ctx, 52.52, 13.405)
	require.True(t, ok)
	assert.Equal(t, "Unter den Linden 1, Berlin", addr)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	// 不同坐标不共享缓存
	_, _ = resolver.Resolve(ctx, 48.8566, 2.3522)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestCachedResolverDoesNotCacheFailures(t *testing.T) {
	var calls int64
	server := newGoogleServer(t, "ZERO_RESULTS", "", &calls)

	resolver := NewCached(
		NewGoogle(GoogleConfig{APIKey: "test-key", BaseURL: server.URL}),
		newMemoryCache(t),
		time.Minute,
	)

	ctx := context.Background()
	_, ok := resolver.Resolve(ctx, 52.52, 13.405)
	assert.False(t, ok)

	_, ok = resolver.Resolve(ctx, 52.52, 13.405)
	assert.False(t, ok)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}
