package rtc

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

const (
	audioFrame = 20 * time.Millisecond
	videoFrame = 66 * time.Millisecond
)

// SyntheticSource is a core.MediaSource producing silence and blank
// frames. It stands in for device capture on headless hosts; the
// negotiation path does not care what the samples contain.
type SyntheticSource struct{}

func NewSyntheticSource() SyntheticSource { return SyntheticSource{} }

func (SyntheticSource) AcquireUserMedia(ctx context.Context, audio, video bool) (core.LocalMedia, error) {
	mic, err := newFedTrack(ctx, core.TrackAudio, domain.SourceMicrophone)
	if err != nil {
		return nil, err
	}
	mic.SetEnabled(audio)

	cam, err := newFedTrack(ctx, core.TrackVideo, domain.SourceCamera)
	if err != nil {
		mic.Stop()
		return nil, err
	}
	cam.SetEnabled(video)

	return &localMedia{audio: mic, video: cam}, nil
}

func (SyntheticSource) AcquireDisplayMedia(ctx context.Context) (core.Track, error) {
	screen, err := newFedTrack(ctx, core.TrackVideo, domain.SourceScreen)
	if err != nil {
		return nil, err
	}
	screen.SetEnabled(true)
	return screen, nil
}

type localMedia struct {
	audio *localTrack
	video *localTrack
}

func (m *localMedia) AudioTrack() core.Track { return m.audio }
func (m *localMedia) VideoTrack() core.Track { return m.video }

func (m *localMedia) Stop() {
	m.audio.Stop()
	m.video.Stop()
}

func newFedTrack(ctx context.Context, kind core.TrackKind, source domain.SourceKind) (*localTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	interval := audioFrame
	if kind == core.TrackVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
		interval = videoFrame
	}
	sample, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), "peercall-"+string(source))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &localTrack{
		kind:   kind,
		source: source,
		sample: sample,
		stop:   cancel,
	}
	go feed(ctx, t, interval)
	return t, nil
}

// feed writes one sample per frame interval while the track is enabled.
// A disabled track stays attached to its sender but sends nothing.
func feed(ctx context.Context, t *localTrack, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	payload := make([]byte, 16)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			err := t.sample.WriteSample(media.Sample{Data: payload, Duration: interval})
			if err != nil {
				log.Debug().Err(err).Str("module", "rtc").Str("kind", string(t.kind)).Msg("feed stopped")
				t.ended()
				return
			}
		}
	}
}
