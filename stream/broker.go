// Package stream fans structured log output out to live subscribers over
// Server-Sent Events.
package stream

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// cannot drain this many events starts losing them rather than blocking
// the logger.
const subscriberBuffer = 64

// Broker is an io.Writer that duplicates every write to all current
// subscribers. Point a slog JSON handler at it and each log record
// becomes one SSE event.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Write implements io.Writer. Slow subscribers drop events; the write
// itself never blocks.
func (b *Broker) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	event := make([]byte, len(p))
	copy(event, p)

	b.mu.RLock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	b.mu.RUnlock()
	return len(p), nil
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called when the subscriber goes away.
func (b *Broker) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount reports the number of live subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ServeHTTP streams log events. Browsers asking for HTML get a small
// shell page that opens the event stream; everything else gets the raw
// SSE stream.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/html") &&
		!strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, loggerPage)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := b.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-events:
			fmt.Fprintf(w, "data: %s\n\n", strings.TrimRight(string(event), "\n"))
			flusher.Flush()
		}
	}
}

const loggerPage = `<!DOCTYPE html>
<html>
<head><title>Log stream</title></head>
<body>
<pre id="log"></pre>
<script>
var log = document.getElementById("log");
var es = new EventSource(window.location.pathname);
es.onmessage = function(e) {
  log.textContent += e.data + "\n";
  window.scrollTo(0, document.body.scrollHeight);
};
</script>
</body>
</html>
`
