package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhookEscalatorWithoutURL(t *testing.T) {
	assert.Nil(t, NewWebhookEscalator(WebhookConfig{}))
}

func TestWebhookEscalate(t *testing.T) {
	var received AlertPayload
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	escalator := NewWebhookEscalator(WebhookConfig{URL: server.URL})
	require.NotNil(t, escalator)

	payload := AlertPayload{
		AlertID:   "alert-1",
		UserID:    7,
		AlertType: "panic_button",
		Status:    "active",
		Priority:  5,
		Latitude:  52.52,
		Longitude: 13.405,
	}
	require.NoError(t, escalator.Escalate(context.Background(), payload))
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	assert.Equal(t, "alert-1", received.AlertID)
	assert.Equal(t, uint(7), received.UserID)
	assert.Equal(t, 5, received.Priority)
}

func TestWebhookEscalateNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	escalator := NewWebhookEscalator(WebhookConfig{URL: server.URL})
	err := escalator.Escalate(context.Background(), AlertPayload{AlertID: "alert-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookEscalateUnreachable(t *testing.T) {
	escalator := NewWebhookEscalator(WebhookConfig{
		URL:     "http://127.0.0.1:1",
		Timeout: 200 * time.Millisecond,
	})
	assert.Error(t, escalator.Escalate(context.Background(), AlertPayload{AlertID: "alert-1"}))
}

func TestDispatcherDeliversQueuedAlerts(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(NewWebhookEscalator(WebhookConfig{URL: server.URL}), 16, nil)

	for i := 0; i < 3; i++ {
		d.EnqueueAlert(AlertPayload{AlertID: "alert-1"})
	}
	d.Close()

	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestDispatcherNilEscalatorDiscards(t *testing.T) {
	d := NewDispatcher(nil, 4, nil)
	d.EnqueueAlert(AlertPayload{AlertID: "alert-1"})
	d.Close()
}

func TestDispatcherFailuresDoNotStopWorker(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(NewWebhookEscalator(WebhookConfig{URL: server.URL}), 16, nil)
	d.EnqueueAlert(AlertPayload{AlertID: "alert-1"})
	d.EnqueueAlert(AlertPayload{AlertID: "alert-2"})
	d.Close()

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestDispatcherObserverReportsResults(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var ok, failed int64
	d := NewDispatcher(NewWebhookEscalator(WebhookConfig{URL: server.URL}), 16, nil)
	d.SetObserver(func(result string) {
		if result == "ok" {
			atomic.AddInt64(&ok, 1)
		} else {
			atomic.AddInt64(&failed, 1)
		}
	})

	d.EnqueueAlert(AlertPayload{AlertID: "alert-1"})
	d.EnqueueAlert(AlertPayload{AlertID: "alert-2"})
	d.Close()

	assert.Equal(t, int64(1), atomic.LoadInt64(&ok))
	assert.Equal(t, int64(1), atomic.LoadInt64(&failed))
}

type blockingEscalator struct {
	release chan struct{}
	seen    int64
}

func (b *blockingEscalator) Escalate(ctx context.Context, payload AlertPayload) error {
	atomic.AddInt64(&b.seen, 1)
	<-b.release
	return nil
}

func TestDispatcherEnqueueNeverBlocks(t *testing.T) {
	esc := &blockingEscalator{release: make(chan struct{})}
	d := NewDispatcher(esc, 2, nil)

	// worker卡在第一条上，后续入队填满队列后直接丢弃
	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			d.EnqueueAlert(AlertPayload{AlertID: "alert-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EnqueueAlert blocked")
	}

	close(esc.release)
	d.Close()
	assert.LessOrEqual(t, atomic.LoadInt64(&esc.seen), int64(4))
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(nil, 4, nil)
	d.Close()
	d.Close()
}
