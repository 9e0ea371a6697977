package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker()
	first, cancelFirst := broker.Subscribe()
	second, cancelSecond := broker.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	n, err := broker.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	assert.Equal(t, "hello\n", string(<-first))
	assert.Equal(t, "hello\n", string(<-second))
}

func TestBrokerWriteCopiesPayload(t *testing.T) {
	broker := NewBroker()
	events, cancel := broker.Subscribe()
	defer cancel()

	payload := []byte("original")
	_, err := broker.Write(payload)
	require.NoError(t, err)
	copy(payload, "MUTATED!")

	assert.Equal(t, "original", string(<-events))
}

func TestBrokerEmptyWrite(t *testing.T) {
	broker := NewBroker()
	events, cancel := broker.Subscribe()
	defer cancel()

	n, err := broker.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	select {
	case event := <-events:
		t.Fatalf("unexpected event %q", event)
	default:
	}
}

func TestBrokerSlowSubscriberDropsEvents(t *testing.T) {
	broker := NewBroker()
	events, cancel := broker.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		_, err := broker.Write([]byte("event\n"))
		require.NoError(t, err)
	}

	// The buffer holds at most subscriberBuffer events; the surplus was
	// dropped without blocking the writer.
	drained := 0
	for {
		select {
		case <-events:
			drained++
		default:
			assert.Equal(t, subscriberBuffer, drained)
			return
		}
	}
}

func TestBrokerCancelRemovesSubscriber(t *testing.T) {
	broker := NewBroker()
	_, cancel := broker.Subscribe()
	assert.Equal(t, 1, broker.SubscriberCount())
	cancel()
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestServeHTTPBrowserShell(t *testing.T) {
	broker := NewBroker()
	req := httptest.NewRequest(http.MethodGet, "/logger", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()

	broker.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "EventSource")
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	broker := NewBroker()
	server := httptest.NewServer(broker)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/logger", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the subscription before writing, the handler registers it
	// after sending headers.
	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	_, err = broker.Write([]byte(`{"level":"INFO","msg":"request handled"}` + "\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "), "line = %q", line)
	assert.Contains(t, line, "request handled")
}
