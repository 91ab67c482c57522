// Package progress fans progress snapshots out to real-time observers.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

const (
	defaultSubscriberBuffer = 16
	dropLogInterval         = 5 * time.Second
)

// Config controls per-subscriber buffering.
type Config struct {
	// SubscriberBuffer is the bounded channel size per subscription
	// (default 16). On overflow the oldest unsent snapshot is dropped,
	// since snapshots supersede one another.
	SubscriberBuffer int
	Logger           *zap.Logger
}

// Broadcaster multiplexes one logical stream per job id to many subscribers.
// Publish never blocks the caller; a slow subscriber loses old snapshots
// rather than stalling the worker.
type Broadcaster struct {
	mu          sync.Mutex
	subs        map[string]map[*Subscription]struct{}
	bufferSize  int
	logger      *zap.Logger
	dropped     atomic.Int64
	dropLimiter rateLimiter
}

// NewBroadcaster initializes an empty Broadcaster.
func NewBroadcaster(cfg Config) *Broadcaster {
	bufferSize := cfg.SubscriberBuffer
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:        make(map[string]map[*Subscription]struct{}),
		bufferSize:  bufferSize,
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
}

// Subscription is one observer's handle on a job's snapshot stream.
type Subscription struct {
	broadcaster *Broadcaster
	jobID       string
	ch          chan scrape.ProgressSnapshot
	closeOnce   sync.Once
}

// Updates returns the snapshot channel. It is closed when the subscription
// is closed or the job's stream is finished.
func (s *Subscription) Updates() <-chan scrape.ProgressSnapshot {
	return s.ch
}

// Close detaches the subscription. Safe to call multiple times. The channel
// is closed only after the subscription is unreachable from Publish.
func (s *Subscription) Close() {
	b := s.broadcaster
	b.mu.Lock()
	if set, ok := b.subs[s.jobID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.jobID)
		}
	}
	b.mu.Unlock()
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}

// Subscribe registers an observer for one job id. Multiple subscribers per
// job are supported; each gets its own bounded buffer.
func (b *Broadcaster) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		broadcaster: b,
		jobID:       jobID,
		ch:          make(chan scrape.ProgressSnapshot, b.bufferSize),
	}
	b.mu.Lock()
	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[jobID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers the snapshot to every subscriber of the job. Delivery is
// best-effort: a full buffer sheds its oldest snapshot first, so each
// subscriber observes a monotonic (possibly thinned) stream.
func (b *Broadcaster) Publish(jobID string, snapshot scrape.ProgressSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[jobID] {
		select {
		case sub.ch <- snapshot:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snapshot:
		default:
			b.recordDrop()
		}
	}
}

// CloseJob finishes the stream for a job, closing every remaining
// subscription. Called once the job reaches a terminal state.
func (b *Broadcaster) CloseJob(jobID string) {
	b.mu.Lock()
	set := b.subs[jobID]
	delete(b.subs, jobID)
	b.mu.Unlock()
	for sub := range set {
		sub.closeOnce.Do(func() {
			close(sub.ch)
		})
	}
}

// SubscriberCount reports the number of active subscriptions for a job.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

func (b *Broadcaster) recordDrop() {
	b.dropped.Add(1)
	if b.dropLimiter.Allow(time.Now()) {
		count := b.dropped.Swap(0)
		b.logger.Warn("progress snapshots dropped due to backpressure", zap.Int64("dropped", count))
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
