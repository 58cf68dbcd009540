package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	pubsub       PubSubStats
}

// PubSubStats counts broker traffic seen by this process.
type PubSubStats struct {
	Published       int64 `json:"published"`
	PublishFailures int64 `json:"publish_failures"`
	Delivered       int64 `json:"delivered"`
	Dropped         int64 `json:"dropped"`
	DecodeFailures  int64 `json:"decode_failures"`
	Reconnects      int64 `json:"reconnects"`
	ActiveListeners int64 `json:"active_listeners"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordPublish counts an outbound publish attempt.
func (m *Metrics) RecordPublish(ok bool) {
	m.update(func(s *PubSubStats) {
		if ok {
			s.Published++
		} else {
			s.PublishFailures++
		}
	})
}

// RecordDelivered counts envelopes handed to listeners.
func (m *Metrics) RecordDelivered(n int) {
	m.update(func(s *PubSubStats) { s.Delivered += int64(n) })
}

// RecordDropped counts envelopes lost to full listener buffers.
func (m *Metrics) RecordDropped() {
	m.update(func(s *PubSubStats) { s.Dropped++ })
}

// RecordDecodeFailure counts broker payloads that were not valid envelopes.
func (m *Metrics) RecordDecodeFailure() {
	m.update(func(s *PubSubStats) { s.DecodeFailures++ })
}

// RecordReconnect counts inbound connection recoveries.
func (m *Metrics) RecordReconnect() {
	m.update(func(s *PubSubStats) { s.Reconnects++ })
}

// AddListeners adjusts the active listener gauge.
func (m *Metrics) AddListeners(delta int) {
	m.update(func(s *PubSubStats) { s.ActiveListeners += int64(delta) })
}

// PubSub returns a copy of the pub/sub counters.
func (m *Metrics) PubSub() PubSubStats {
	if m == nil {
		return PubSubStats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pubsub
}

// Requests returns a copy of the request counters keyed by path|method|status.
func (m *Metrics) Requests() map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.requestCount))
	for k, v := range m.requestCount {
		out[k] = v
	}
	return out
}

func (m *Metrics) update(fn func(*PubSubStats)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.pubsub)
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
