package app

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// CandidateBuffer holds remote ICE candidates that arrive before the
// remote description is known. Candidates are retained in arrival order
// and drained exactly once per negotiation.
type CandidateBuffer struct {
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{}
}

// Hold appends a candidate to the buffer.
func (b *CandidateBuffer) Hold(c webrtc.ICECandidateInit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, c)
}

// Drain returns all held candidates in arrival order and empties the
// buffer. Candidates arriving after Drain bypass the buffer entirely,
// so each one reaches the media engine exactly once.
func (b *CandidateBuffer) Drain() []webrtc.ICECandidateInit {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
