package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

// TrackManager owns the outbound track slots. Toggles flip the enabled
// flag without renegotiating; screen share swaps the video sender's
// source with a hard replace, never an overlay, so at most one source
// feeds the video-out slot at a time.
type TrackManager struct {
	mu       sync.Mutex
	media    core.MediaSession
	mic      core.Track
	camera   core.Track
	screen   core.Track
	bindings map[domain.LogicalTrack]domain.SourceKind
}

func NewTrackManager(media core.MediaSession, local core.LocalMedia) *TrackManager {
	return &TrackManager{
		media:  media,
		mic:    local.AudioTrack(),
		camera: local.VideoTrack(),
		bindings: map[domain.LogicalTrack]domain.SourceKind{
			domain.AudioOut: domain.SourceMicrophone,
			domain.VideoOut: domain.SourceCamera,
		},
	}
}

// ToggleAudio flips the microphone's enabled flag and returns the new
// value.
func (m *TrackManager) ToggleAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mic.SetEnabled(!m.mic.Enabled())
	return m.mic.Enabled()
}

// ToggleVideo flips the camera's enabled flag and returns the new value.
func (m *TrackManager) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camera.SetEnabled(!m.camera.Enabled())
	return m.camera.Enabled()
}

// StartScreenShare acquires a screen source and swaps it into the video
// sender. The screen's external end signal (OS-level stop) funnels into
// the same StopScreenShare path as an explicit stop.
func (m *TrackManager) StartScreenShare(ctx context.Context, source core.MediaSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screen != nil {
		return nil
	}

	screen, err := source.AcquireDisplayMedia(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}
	sender, ok := m.media.VideoSender()
	if !ok {
		screen.Stop()
		return fmt.Errorf("start screen share: no video sender")
	}
	if err := sender.ReplaceTrack(screen); err != nil {
		screen.Stop()
		return fmt.Errorf("replace video track: %w", err)
	}

	m.screen = screen
	m.bindings[domain.VideoOut] = domain.SourceScreen
	screen.OnEnded(func() {
		if err := m.StopScreenShare(); err != nil {
			log.Warn().Err(err).Str("module", "app.tracks").Msg("screen end handling")
		}
	})
	log.Info().Str("module", "app.tracks").Msg("screen share started")
	return nil
}

// StopScreenShare swaps the camera back into the video sender and
// releases the screen source. Idempotent: the external end signal and an
// explicit stop may both land here.
func (m *TrackManager) StopScreenShare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screen == nil {
		return nil
	}

	if sender, ok := m.media.VideoSender(); ok {
		if err := sender.ReplaceTrack(m.camera); err != nil {
			return fmt.Errorf("restore camera track: %w", err)
		}
	}
	m.screen.Stop()
	m.screen = nil
	m.bindings[domain.VideoOut] = domain.SourceCamera
	log.Info().Str("module", "app.tracks").Msg("screen share stopped")
	return nil
}

// Binding reports the source currently feeding a logical slot.
func (m *TrackManager) Binding(slot domain.LogicalTrack) domain.SourceKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bindings[slot]
}

// Bindings returns the current slot-to-source associations in slot order.
func (m *TrackManager) Bindings() []domain.TrackBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TrackBinding, 0, len(m.bindings))
	for _, slot := range []domain.LogicalTrack{domain.AudioOut, domain.VideoOut} {
		out = append(out, domain.TrackBinding{Slot: slot, Source: m.bindings[slot]})
	}
	return out
}

// AudioEnabled reports the microphone's enabled flag.
func (m *TrackManager) AudioEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mic.Enabled()
}

// VideoEnabled reports the camera's enabled flag.
func (m *TrackManager) VideoEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera.Enabled()
}

// StopAll releases every source this manager still holds. Called on
// session teardown; the camera/mic pair is also stopped by LocalMedia,
// stopping twice is harmless.
func (m *TrackManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screen != nil {
		m.screen.Stop()
		m.screen = nil
		m.bindings[domain.VideoOut] = domain.SourceCamera
	}
	m.mic.Stop()
	m.camera.Stop()
}
