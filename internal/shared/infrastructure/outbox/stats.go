package outbox

import (
	"sync"
	"time"
)

// Stats is a snapshot of processor progress, exposed through health checks
// and the worker's periodic log line.
type Stats struct {
	IsRunning       bool
	BreakerState    string
	PublishedCount  uint64
	FailedCount     uint64
	DeadCount       uint64
	LagSeconds      float64
	LastError       string
	LastErrorAt     *time.Time
	LastProcessedAt *time.Time
	OldestMessageAt *time.Time
}

type statsRecorder struct {
	mu sync.Mutex
	s  Stats
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s
}

func (r *statsRecorder) update(fn func(s *Stats, now time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.s, time.Now())
}

func (r *statsRecorder) polled(batch []*Message) {
	r.update(func(s *Stats, now time.Time) {
		s.LastProcessedAt = &now
		s.OldestMessageAt = nil
		s.LagSeconds = 0
		for _, msg := range batch {
			if s.OldestMessageAt == nil || msg.CreatedAt.Before(*s.OldestMessageAt) {
				created := msg.CreatedAt
				s.OldestMessageAt = &created
			}
		}
		if s.OldestMessageAt != nil {
			s.LagSeconds = now.Sub(*s.OldestMessageAt).Seconds()
		}
	})
}

func (r *statsRecorder) delivered(o outcome, err error) {
	r.update(func(s *Stats, now time.Time) {
		switch o {
		case outcomePublished:
			s.PublishedCount++
		case outcomeRetry:
			s.FailedCount++
		case outcomeDead:
			s.DeadCount++
		}
		if err != nil {
			s.LastError = err.Error()
			s.LastErrorAt = &now
		}
	})
}

func (r *statsRecorder) errored(err error) {
	r.delivered(outcomeNone, err)
}
