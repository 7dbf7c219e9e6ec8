package core

import (
	"fmt"
	"sync"
)

// jobHistory keeps the most recent execution records in a fixed ring
// indexed by a running sequence number.
type jobHistory struct {
	mu      sync.Mutex
	ring    []JobExecutionRecord
	written uint64
}

func newJobHistory(capacity int) *jobHistory {
	if capacity < 1 {
		capacity = defaultJobHistoryCapacity
	}
	return &jobHistory{ring: make([]JobExecutionRecord, capacity)}
}

func (h *jobHistory) record(r JobExecutionRecord) {
	h.mu.Lock()
	h.ring[h.written%uint64(len(h.ring))] = r
	h.written++
	h.mu.Unlock()
}

// recent returns up to limit records accepted by keep, newest first. A nil
// keep accepts everything; limit <= 0 means every retained record.
func (h *jobHistory) recent(limit int, keep func(*JobExecutionRecord) bool) []JobExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := uint64(len(h.ring))
	oldest := uint64(0)
	if h.written > size {
		oldest = h.written - size
	}

	var out []JobExecutionRecord
	for seq := h.written; seq > oldest; seq-- {
		r := &h.ring[(seq-1)%size]
		if keep != nil && !keep(r) {
			continue
		}
		out = append(out, *r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (h *jobHistory) last() (JobExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.written == 0 {
		return JobExecutionRecord{}, false
	}
	return h.ring[(h.written-1)%uint64(len(h.ring))], true
}

func jobDisplayName(j *Job) string {
	if name := j.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("job-%d", j.ID())
}
