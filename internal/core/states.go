package core

// Role is the negotiation role assigned by the signaling service.
type Role int

const (
	RoleUnassigned Role = iota
	RoleCaller
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "unassigned"
	}
}

// Admission is the host-gate status of a participant.
type Admission int

const (
	AdmissionNotRequired Admission = iota
	AdmissionPending
	AdmissionApproved
	AdmissionRejected
)

func (a Admission) String() string {
	switch a {
	case AdmissionPending:
		return "pending"
	case AdmissionApproved:
		return "approved"
	case AdmissionRejected:
		return "rejected"
	default:
		return "not_required"
	}
}

// Satisfied reports whether negotiation messages may be transmitted.
func (a Admission) Satisfied() bool {
	return a == AdmissionApproved || a == AdmissionNotRequired
}

// NegotiationState is the state of the offer/answer machine.
type NegotiationState int

const (
	StateIdle NegotiationState = iota
	StateRoleKnown
	StateOffering
	StateAwaitingAnswer
	StateAwaitingOffer
	StateAnswering
	StateConnected
	StateReconnecting
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRoleKnown:
		return "role_known"
	case StateOffering:
		return "offering"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateAwaitingOffer:
		return "awaiting_offer"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LinkQuality classifies the current round-trip latency of the media path.
type LinkQuality int

const (
	QualityUnknown LinkQuality = iota
	QualityGood
	QualityMedium
	QualityPoor
)

func (q LinkQuality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityMedium:
		return "medium"
	case QualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// TransportState mirrors the media engine's connection state without
// exposing engine types to the app layer.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	default:
		return "new"
	}
}
