package callkit

import "time"

// Role distinguishes the side that placed the call from the side receiving
// it. It is an explicit field on session creation rather than something
// inferred from call order: both sides run the identical controller code and
// only the initiator owns the missed-call timer.
type Role int

const (
	RoleInitiator Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "receiver"
}

// State is the local, client-only lifecycle state of one call attempt.
// It is never persisted.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRinging
	StateActive
	StateEnding
	StateTerminated
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateRinging:    "ringing",
	StateActive:     "active",
	StateEnding:     "ending",
	StateTerminated: "terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Subject is the optional business context attached to a call for display.
// It never affects call mechanics.
type Subject struct {
	ShopID      int64  `json:"shop_id"`
	ShopName    string `json:"shop_name"`
	ProductID   int64  `json:"product_id,omitempty"`
	ProductName string `json:"product_name,omitempty"`
}

// Descriptor identifies one attempted or active call session. Room is the
// shared key both parties and the media transport use to rendezvous; it is
// minted by the signaling service at session creation.
type Descriptor struct {
	Room              string  `json:"room"`
	InitiatorEmail    string  `json:"initiator_email"`
	CounterpartyEmail string  `json:"counterparty_email"`
	Subject           Subject `json:"subject"`
}

// TerminateReason records which exit path ended a session.
type TerminateReason string

const (
	ReasonLocalHangup    TerminateReason = "local_hangup"
	ReasonLocalDecline   TerminateReason = "local_decline"
	ReasonRemoteEnded    TerminateReason = "remote_ended"
	ReasonRemoteDeclined TerminateReason = "remote_declined"
	ReasonMissed         TerminateReason = "missed"
	ReasonMediaError     TerminateReason = "media_error"
)

func reasonForEvent(t StatusEventType) TerminateReason {
	switch t {
	case StatusEventDeclined:
		return ReasonRemoteDeclined
	case StatusEventMissed:
		return ReasonMissed
	default:
		return ReasonRemoteEnded
	}
}

// Summary is handed to the closed callback on teardown.
type Summary struct {
	Descriptor Descriptor
	Reason     TerminateReason
	StartedAt  time.Time
	Duration   time.Duration
}
