package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

// localTrack is a core.Track over a pion sample track. The feed loop
// (see source.go) keeps writing while the track is enabled and stops on
// Stop. Stop never fires the OnEnded callback; that is reserved for the
// source ending on its own.
type localTrack struct {
	kind   core.TrackKind
	source domain.SourceKind
	sample *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	stopped bool
	onEnded func()
	stop    func()
}

func (t *localTrack) Kind() core.TrackKind      { return t.kind }
func (t *localTrack) Source() domain.SourceKind { return t.source }

func (t *localTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *localTrack) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = v
}

func (t *localTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

func (t *localTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	stop := t.stop
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// ended is called by the feed loop when the source dries up on its own.
func (t *localTrack) ended() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
