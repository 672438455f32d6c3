package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimeBucketStore keeps a bounded ring of TimeBuckets.
//
// Request, check and iteration counts for the open interval are accumulated
// with atomics so VUs never contend on the ring lock.
type TimeBucketStore struct {
	mu         sync.RWMutex
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	lastEmit   time.Time

	requests    atomic.Int64
	failures    atomic.Int64
	checkPasses atomic.Int64
	checkFails  atomic.Int64
	iterations  atomic.Int64
}

// NewTimeBucketStore returns a store retaining at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	return &TimeBucketStore{
		buckets:    make([]*TimeBucket, maxBuckets),
		maxBuckets: maxBuckets,
		lastEmit:   time.Now(),
	}
}

// RecordRequest adds a request to the open interval.
func (s *TimeBucketStore) RecordRequest(success bool) {
	s.requests.Add(1)
	if !success {
		s.failures.Add(1)
	}
}

// RecordCheck adds a check outcome to the open interval.
func (s *TimeBucketStore) RecordCheck(passed bool) {
	if passed {
		s.checkPasses.Add(1)
	} else {
		s.checkFails.Add(1)
	}
}

// RecordIteration adds a completed iteration to the open interval.
func (s *TimeBucketStore) RecordIteration() {
	s.iterations.Add(1)
}

// bucketTotals carries the cumulative counters into seal.
type bucketTotals struct {
	requests  int64
	successes int64
	failures  int64
	bytes     int64
}

// seal closes the open interval into a bucket and starts a new one.
func (s *TimeBucketStore) seal(totals bucketTotals, latencies LatencyPercentiles, activeVUs int, phase Phase) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	seconds := now.Sub(s.lastEmit).Seconds()
	if seconds <= 0 {
		seconds = 1
	}

	reqs := s.requests.Swap(0)
	fails := s.failures.Swap(0)

	errRate := 0.0
	if reqs > 0 {
		errRate = float64(fails) / float64(reqs)
	}

	b := &TimeBucket{
		Timestamp:           now,
		TotalRequests:       totals.requests,
		TotalSuccesses:      totals.successes,
		TotalFailures:       totals.failures,
		TotalBytes:          totals.bytes,
		IntervalRequests:    reqs,
		IntervalRPS:         float64(reqs) / seconds,
		IntervalErrorRate:   errRate,
		IntervalCheckPasses: s.checkPasses.Swap(0),
		IntervalCheckFails:  s.checkFails.Swap(0),
		IntervalIterations:  s.iterations.Swap(0),
		LatencyMin:          latencies.Min,
		LatencyMax:          latencies.Max,
		LatencyP50:          latencies.P50,
		LatencyP90:          latencies.P90,
		LatencyP95:          latencies.P95,
		LatencyP99:          latencies.P99,
		ActiveVUs:           activeVUs,
		Phase:               phase,
	}

	s.buckets[s.head] = b
	s.head = (s.head + 1) % s.maxBuckets
	if s.count < s.maxBuckets {
		s.count++
	}
	s.lastEmit = now

	return b
}

// Buckets returns the retained buckets oldest first.
func (s *TimeBucketStore) Buckets() []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	out := make([]*TimeBucket, s.count)
	start := 0
	if s.count == s.maxBuckets {
		start = s.head
	}
	for i := 0; i < s.count; i++ {
		out[i] = s.buckets[(start+i)%s.maxBuckets]
	}
	return out
}

// Latest returns the most recent bucket or nil.
func (s *TimeBucketStore) Latest() *TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}
	return s.buckets[(s.head-1+s.maxBuckets)%s.maxBuckets]
}

// Len returns the number of retained buckets.
func (s *TimeBucketStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// SteadyStateRPS averages interval throughput over steady-phase buckets.
// The second return value is the number of buckets used.
func (s *TimeBucketStore) SteadyStateRPS() (float64, int) {
	var sum float64
	n := 0
	for _, b := range s.Buckets() {
		if b.Phase != PhaseSteady {
			continue
		}
		sum += b.IntervalRPS
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
