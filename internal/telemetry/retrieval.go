// Package telemetry collects local retrieval telemetry. All data stays
// in process memory - nothing is reported externally. Snapshots are
// served through the debug API for tuning retrieval behavior.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// BucketFor converts a duration to its histogram bucket.
func BucketFor(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// RetrievalEvent captures one run of the retrieval pipeline.
type RetrievalEvent struct {
	ProjectID   string
	Query       string
	VectorHits  int
	KeywordHits int
	Selected    int
	Latency     time.Duration
}

// Ring is a fixed-capacity FIFO buffer. The oldest entry is evicted
// when the buffer is full.
type Ring[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
}

// NewRing creates a ring buffer with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 50
	}
	return &Ring[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends an item, evicting the oldest when full.
func (r *Ring[T]) Add(item T) {
	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Items returns the buffered items oldest-first.
func (r *Ring[T]) Items() []T {
	if r.size == 0 {
		return []T{}
	}
	out := make([]T, r.size)
	if r.size < r.capacity {
		copy(out, r.items[:r.size])
	} else {
		copy(out, r.items[r.head:])
		copy(out[r.capacity-r.head:], r.items[:r.head])
	}
	return out
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int { return r.size }

// TermCount is a query term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable view of the collected retrieval metrics.
type Snapshot struct {
	TotalRetrievals     int64                   `json:"total_retrievals"`
	ChannelHits         map[string]int64        `json:"channel_hits"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	UniqueQueryCount    int64                   `json:"unique_query_count"`
	Since               time.Time               `json:"since"`
}

const (
	topTermsCapacity    = 100
	topTermsReported    = 20
	zeroResultsCapacity = 50
	recentQueriesCap    = 500
)

// RetrievalMetrics accumulates retrieval telemetry. Safe for concurrent
// use.
type RetrievalMetrics struct {
	mu sync.Mutex

	channelHits  map[string]int64
	topTerms     *lru.Cache[string, int64]
	zeroResults  *Ring[string]
	latencies    map[LatencyBucket]int64
	total        int64
	zeroCount    int64
	exactRepeats int64

	// LRU of normalized query hashes for repeat detection.
	recent *lru.Cache[string, struct{}]

	since time.Time
}

// NewRetrievalMetrics creates an empty collector.
func NewRetrievalMetrics() *RetrievalMetrics {
	topTerms, _ := lru.New[string, int64](topTermsCapacity)
	recent, _ := lru.New[string, struct{}](recentQueriesCap)
	return &RetrievalMetrics{
		channelHits: make(map[string]int64),
		topTerms:    topTerms,
		zeroResults: NewRing[string](zeroResultsCapacity),
		latencies:   make(map[LatencyBucket]int64),
		recent:      recent,
		since:       time.Now(),
	}
}

// Record captures one retrieval event.
func (m *RetrievalMetrics) Record(ev RetrievalEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.channelHits["vector"] += int64(ev.VectorHits)
	m.channelHits["keyword"] += int64(ev.KeywordHits)
	m.latencies[BucketFor(ev.Latency)]++

	for _, term := range queryTerms(ev.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if ev.Selected == 0 {
		m.zeroResults.Add(ev.Query)
		m.zeroCount++
	}

	hash := hashQuery(ev.Query)
	if _, seen := m.recent.Get(hash); seen {
		m.exactRepeats++
	}
	m.recent.Add(hash, struct{}{})
}

// Snapshot returns a copy of the current metrics. Top terms are sorted
// by descending count and capped.
func (m *RetrievalMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	channels := make(map[string]int64, len(m.channelHits))
	for k, v := range m.channelHits {
		channels[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})
	if len(terms) > topTermsReported {
		terms = terms[:topTermsReported]
	}

	return Snapshot{
		TotalRetrievals:     m.total,
		ChannelHits:         channels,
		LatencyDistribution: latencies,
		TopTerms:            terms,
		ZeroResultQueries:   m.zeroResults.Items(),
		ZeroResultCount:     m.zeroCount,
		ExactRepeatCount:    m.exactRepeats,
		UniqueQueryCount:    int64(m.recent.Len()),
		Since:               m.since,
	}
}

// queryTerms extracts lowercased terms of at least 3 bytes.
func queryTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var terms []string
	for _, w := range strings.Fields(query) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// hashQuery normalizes and hashes a query for repeat detection.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}
