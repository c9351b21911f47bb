package callkit

import (
	"context"

	"github.com/bazaarlane/callkit/tools"
)

// Transport is the injected media transport capability. The controller
// never reads SDK state from ambient globals; whatever implements Connect
// is handed in at construction.
type Transport interface {
	Connect(ctx context.Context, token, room string) (Room, error)
}

// Room is one joined media session. Participant events drive the call
// lifecycle; track events drive sink attachment and are independent of
// participant connect/disconnect, since a participant may drop and re-add
// individual tracks within one call.
type Room interface {
	OnParticipantConnected(fn func(identity string))
	OnParticipantDisconnected(fn func(identity string))
	OnTrackSubscribed(fn func(track RemoteTrack))
	OnTrackUnsubscribed(fn func(trackID string))
	PublishAudio(local LocalTrack) error
	RemoteCount() int
	Disconnect() error
}

// RemoteTrack is a readable remote media track as delivered by the room.
type RemoteTrack interface {
	tools.RemoteAudio
	Kind() string
}
