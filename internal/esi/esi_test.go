package esi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, groupHits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/universe/types/999201/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"type_id":999201,"name":"Test Mineral","group_id":18,"published":true}`))
	})
	mux.HandleFunc("/universe/types/999202/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type_id":999202,"name":"Other Mineral","group_id":18,"published":true}`))
	})
	mux.HandleFunc("/universe/groups/18/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(groupHits, 1)
		w.Write([]byte(`{"group_id":18,"category_id":4}`))
	})
	mux.HandleFunc("/universe/types/500/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_GetType(t *testing.T) {
	var groupHits int32
	srv := newTestServer(t, &groupHits)
	c := NewClient(Options{BaseURL: srv.URL + "/", RequestsPerSecond: 1000, Burst: 100})

	info, err := c.GetType(context.Background(), 999201)
	require.NoError(t, err)
	assert.Equal(t, &TypeInfo{TypeID: 999201, Name: "Test Mineral", GroupID: 18, CategoryID: 4, Published: true}, info)

	// group lookups are memoised
	_, err = c.GetType(context.Background(), 999202)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&groupHits))
}

func TestClient_GetType_NotFound(t *testing.T) {
	var groupHits int32
	srv := newTestServer(t, &groupHits)
	c := NewClient(Options{BaseURL: srv.URL})

	_, err := c.GetType(context.Background(), 12345)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClient_GetType_ServerError(t *testing.T) {
	var groupHits int32
	srv := newTestServer(t, &groupHits)
	c := NewClient(Options{BaseURL: srv.URL})

	_, err := c.GetType(context.Background(), 500)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "ESI 502")
}

func TestClient_CancelledContext(t *testing.T) {
	var groupHits int32
	srv := newTestServer(t, &groupHits)
	c := NewClient(Options{BaseURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetType(ctx, 999201)
	assert.Error(t, err)
}

func TestClient_GetType_CallerCancelDoesNotFailSharedFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	mux := http.NewServeMux()
	mux.HandleFunc("/universe/types/999203/", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
		w.Write([]byte(`{"type_id":999203,"name":"Slow Mineral","group_id":0,"published":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewClient(Options{BaseURL: srv.URL, RequestsPerSecond: 1000, Burst: 100})

	type result struct {
		info *TypeInfo
		err  error
	}
	ctxA, cancelA := context.WithCancel(context.Background())
	first := make(chan result, 1)
	go func() {
		info, err := c.GetType(ctxA, 999203)
		first <- result{info, err}
	}()
	<-started

	second := make(chan result, 1)
	go func() {
		info, err := c.GetType(context.Background(), 999203)
		second <- result{info, err}
	}()

	cancelA()
	a := <-first
	assert.ErrorIs(t, a.err, context.Canceled)

	close(release)
	b := <-second
	require.NoError(t, b.err)
	assert.Equal(t, "Slow Mineral", b.info.Name)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Options{})
	require.NotNil(t, c)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}

func TestStaticClient(t *testing.T) {
	c := NewStaticClient(TypeInfo{TypeID: 34, Name: "Tritanium"})

	got, err := c.GetType(context.Background(), 34)
	require.NoError(t, err)
	assert.Equal(t, "Tritanium", got.Name)

	_, err = c.GetType(context.Background(), 35)
	assert.ErrorIs(t, err, ErrNotFound)

	c.FailWith(errors.New("offline"))
	_, err = c.GetType(context.Background(), 34)
	assert.EqualError(t, err, "offline")
	assert.Equal(t, 2, c.Calls(34))
}

var _ TypeClient = (*Client)(nil)
var _ TypeClient = (*StaticClient)(nil)
