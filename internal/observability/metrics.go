package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides in-memory counters for the pipeline and the ops surface.
type Metrics struct {
	mu               sync.Mutex
	requestCount     map[string]int64
	errorCount       map[string]int64
	enrichment       map[string]int64
	autoCloses       map[string]int64
	dispatches       map[string]int64
	dispatchFailures map[string]int64
	tasks            map[string]int64
	unrouted         int64
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Requests         map[string]int64 `json:"requests"`
	Errors           map[string]int64 `json:"errors"`
	Enrichment       map[string]int64 `json:"enrichment"`
	AutoCloses       map[string]int64 `json:"auto_closes"`
	Dispatches       map[string]int64 `json:"dispatches"`
	DispatchFailures map[string]int64 `json:"dispatch_failures"`
	Tasks            map[string]int64 `json:"tasks"`
	Unrouted         int64            `json:"unrouted"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:     make(map[string]int64),
		errorCount:       make(map[string]int64),
		enrichment:       make(map[string]int64),
		autoCloses:       make(map[string]int64),
		dispatches:       make(map[string]int64),
		dispatchFailures: make(map[string]int64),
		tasks:            make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, _ time.Duration) {
	m.incr(func() { m.requestCount[path+"|"+method+"|"+strconv.Itoa(status)]++ })
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	m.incr(func() { m.errorCount[path+"|"+method+"|"+code]++ })
}

// RecordEnrichment counts successful_enrichment or failed_enrichment.
func (m *Metrics) RecordEnrichment(success bool) {
	key := "failed_enrichment"
	if success {
		key = "successful_enrichment"
	}
	m.incr(func() { m.enrichment[key]++ })
}

// RecordAutoClose counts tickets closed without review, keyed by reason.
func (m *Metrics) RecordAutoClose(reason string) {
	m.incr(func() { m.autoCloses[reason]++ })
}

// RecordDispatch counts one routing message per destination.
func (m *Metrics) RecordDispatch(destination string, err error) {
	m.incr(func() {
		if err != nil {
			m.dispatchFailures[destination]++
			return
		}
		m.dispatches[destination]++
	})
}

// RecordTask counts worker task outcomes (processed, redelivered, dropped).
func (m *Metrics) RecordTask(outcome string) {
	m.incr(func() { m.tasks[outcome]++ })
}

// RecordUnrouted counts tickets left OPEN with no destination to receive them.
func (m *Metrics) RecordUnrouted() {
	m.incr(func() { m.unrouted++ })
}

// Snapshot copies all counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Requests:         copyCounts(m.requestCount),
		Errors:           copyCounts(m.errorCount),
		Enrichment:       copyCounts(m.enrichment),
		AutoCloses:       copyCounts(m.autoCloses),
		Dispatches:       copyCounts(m.dispatches),
		DispatchFailures: copyCounts(m.dispatchFailures),
		Tasks:            copyCounts(m.tasks),
		Unrouted:         m.unrouted,
	}
}

func (m *Metrics) incr(fn func()) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
