package core

import "errors"

var (
	// ErrChannelUnavailable: the signaling transport could not be
	// established or has gone away. Reconnection is an explicit caller
	// action, never a silent retry.
	ErrChannelUnavailable = errors.New("signaling channel unavailable")

	// ErrMediaAcquisition: local capture devices could not be acquired.
	// Terminal for the join attempt; surfaced, not retried.
	ErrMediaAcquisition = errors.New("media acquisition denied")

	// ErrAdmissionDenied: the host rejected the join request.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrStaleMessage: a signaling message arrived out of order for the
	// current negotiation (answer without an outstanding offer, candidate
	// for a closed session). Dropped and logged, never surfaced.
	ErrStaleMessage = errors.New("stale signaling message")

	// ErrSessionClosed: an operation was invoked after teardown.
	ErrSessionClosed = errors.New("session closed")

	ErrBackpressure = errors.New("backpressure")
)
