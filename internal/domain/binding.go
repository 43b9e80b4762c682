package domain

// LogicalTrack names an outbound media slot independent of its source.
type LogicalTrack string

const (
	AudioOut LogicalTrack = "audio-out"
	VideoOut LogicalTrack = "video-out"
)

// SourceKind identifies the physical source currently feeding a slot.
type SourceKind string

const (
	SourceMicrophone SourceKind = "microphone"
	SourceCamera     SourceKind = "camera"
	SourceScreen     SourceKind = "screen"
)

// TrackBinding associates a logical slot with its active source. Exactly
// one source feeds a slot at any time; a screen source is transient and
// reverts to the camera when it ends.
type TrackBinding struct {
	Slot   LogicalTrack
	Source SourceKind
}
