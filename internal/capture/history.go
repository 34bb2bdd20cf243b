package capture

import (
	"sync"
	"time"

	"github.com/orrn/printsink/internal/observability"
)

// History holds captured jobs in arrival order, bounded by job count
// and by total raw bytes. A zero bound means unlimited. Insertion and
// eviction happen under one lock, so readers never observe a job half
// stored.
type History struct {
	mu         sync.RWMutex
	jobs       []*Job
	nextSeq    uint64
	maxJobs    int
	maxBytes   int64
	totalBytes int64
}

func NewHistory(maxJobs int, maxBytes int64) *History {
	return &History{
		nextSeq:  1,
		maxJobs:  maxJobs,
		maxBytes: maxBytes,
	}
}

// Add stores a job, assigns its sequence number and evicts the oldest
// entries until the bounds hold again. The job being added is never
// evicted, even when it alone exceeds the byte bound.
func (h *History) Add(job *Job) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	job.Seq = h.nextSeq
	h.nextSeq++
	h.jobs = append(h.jobs, job)
	h.totalBytes += int64(job.Size())
	h.evictLocked()
	h.publishLocked()

	return job.Seq
}

func (h *History) publishLocked() {
	observability.SetHistorySize(len(h.jobs), h.totalBytes)
}

func (h *History) evictLocked() {
	for len(h.jobs) > 1 {
		overCount := h.maxJobs > 0 && len(h.jobs) > h.maxJobs
		overBytes := h.maxBytes > 0 && h.totalBytes > h.maxBytes
		if !overCount && !overBytes {
			return
		}
		h.totalBytes -= int64(h.jobs[0].Size())
		h.jobs[0] = nil
		h.jobs = h.jobs[1:]
	}
}

// Jobs returns a snapshot of the history, newest first.
func (h *History) Jobs() []*Job {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Job, len(h.jobs))
	for i, j := range h.jobs {
		out[len(h.jobs)-1-i] = j
	}
	return out
}

func (h *History) Get(seq uint64) (*Job, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, j := range h.jobs {
		if j.Seq == seq {
			return j, true
		}
	}
	return nil, false
}

func (h *History) Remove(seq uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, j := range h.jobs {
		if j.Seq == seq {
			h.totalBytes -= int64(j.Size())
			h.jobs = append(h.jobs[:i], h.jobs[i+1:]...)
			h.publishLocked()
			return true
		}
	}
	return false
}

// Clear drops every job and reports how many were removed. Sequence
// numbers keep counting from where they were.
func (h *History) Clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.jobs)
	h.jobs = nil
	h.totalBytes = 0
	h.publishLocked()
	return n
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.jobs)
}

func (h *History) TotalBytes() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalBytes
}

// Limits returns the current bounds, zero meaning unlimited.
func (h *History) Limits() (int, int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxJobs, h.maxBytes
}

// SetLimits applies new bounds and evicts immediately when the history
// already exceeds them.
func (h *History) SetLimits(maxJobs int, maxBytes int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.maxJobs = maxJobs
	h.maxBytes = maxBytes
	h.evictLocked()
	h.publishLocked()
}

// PruneOlderThan drops jobs received before now minus age and reports
// how many were removed.
func (h *History) PruneOlderThan(age time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-age)
	idx := 0
	for idx < len(h.jobs) && h.jobs[idx].ReceivedAt.Before(cutoff) {
		h.totalBytes -= int64(h.jobs[idx].Size())
		h.jobs[idx] = nil
		idx++
	}
	h.jobs = h.jobs[idx:]
	if idx > 0 {
		h.publishLocked()
	}
	return idx
}
