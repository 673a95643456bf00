package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/karyven/peerchat/internal/domain"
)

// PendingCandidates buffers ICE candidates that arrive before the
// partner's remote description is set. Entries for a key are drained in
// arrival order and discarded when the session ends or the partner
// changes.
type PendingCandidates struct {
	mu      sync.Mutex
	pending map[domain.TransportID][]webrtc.ICECandidateInit
}

func NewPendingCandidates() *PendingCandidates {
	return &PendingCandidates{pending: make(map[domain.TransportID][]webrtc.ICECandidateInit)}
}

func (q *PendingCandidates) Push(from domain.TransportID, ci webrtc.ICECandidateInit) {
	q.mu.Lock()
	q.pending[from] = append(q.pending[from], ci)
	q.mu.Unlock()
}

// Drain removes and returns the buffered candidates for from, in the
// order they arrived.
func (q *PendingCandidates) Drain(from domain.TransportID) []webrtc.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending[from]
	delete(q.pending, from)
	return out
}

// Discard drops buffered candidates for from without applying them.
func (q *PendingCandidates) Discard(from domain.TransportID) {
	q.mu.Lock()
	delete(q.pending, from)
	q.mu.Unlock()
}

// DiscardAll empties the whole buffer.
func (q *PendingCandidates) DiscardAll() {
	q.mu.Lock()
	q.pending = make(map[domain.TransportID][]webrtc.ICECandidateInit)
	q.mu.Unlock()
}

func (q *PendingCandidates) Len(from domain.TransportID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[from])
}
