package callkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusEventTerminal(t *testing.T) {
	assert.False(t, StatusEvent{Type: StatusEventRinging}.Terminal())
	assert.False(t, StatusEvent{Type: StatusEventActive}.Terminal())
	assert.True(t, StatusEvent{Type: StatusEventEnded}.Terminal())
	assert.True(t, StatusEvent{Type: StatusEventDeclined}.Terminal())
	assert.True(t, StatusEvent{Type: StatusEventMissed}.Terminal())
}

func TestStatusEventAppliesTo(t *testing.T) {
	ev := StatusEvent{Type: StatusEventEnded, Room: "room-1"}
	assert.True(t, ev.AppliesTo("room-1"))
	assert.False(t, ev.AppliesTo("room-2"))

	// events without a room apply to whatever session the receiver holds
	broadcast := StatusEvent{Type: StatusEventEnded}
	assert.True(t, broadcast.AppliesTo("room-1"))
}

func TestSessionStatusEvent(t *testing.T) {
	ev, terminal := SessionStatusEnded.Event("room-1")
	require.True(t, terminal)
	assert.Equal(t, StatusEventEnded, ev.Type)
	assert.Equal(t, "room-1", ev.Room)

	ev, terminal = SessionStatusDeclined.Event("room-1")
	require.True(t, terminal)
	assert.Equal(t, StatusEventDeclined, ev.Type)

	_, terminal = SessionStatusRinging.Event("room-1")
	assert.False(t, terminal)
	_, terminal = SessionStatusActive.Event("room-1")
	assert.False(t, terminal)
}

func TestStatusEventJSON(t *testing.T) {
	ev := StatusEvent{EventID: "ev-42", Type: StatusEventDeclined, Room: "room-1"}
	data, err := ev.MarshalJSON()
	require.NoError(t, err)

	var got StatusEvent
	require.NoError(t, got.UnmarshalJSON(data))
	assert.Equal(t, ev, got)
}

func TestStatusEventJSONOmitsEmptyFields(t *testing.T) {
	data, err := StatusEvent{Type: StatusEventEnded}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"call.ended"}`, string(data))
}

func TestStatusEventMarshalRequiresType(t *testing.T) {
	_, err := StatusEvent{}.MarshalJSON()
	assert.Error(t, err)
	_, err = StatusEvent{Room: "room-1"}.MarshalYAML()
	assert.Error(t, err)
}

func TestStatusEventUnmarshalRejectsUnknownType(t *testing.T) {
	var ev StatusEvent
	err := ev.UnmarshalJSON([]byte(`{"type":"call.upgraded"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")

	err = ev.UnmarshalJSON([]byte(`{"room":"room-1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing type")
}

func TestStatusEventYAML(t *testing.T) {
	ev := StatusEvent{Type: StatusEventMissed, Room: "room-9"}
	data, err := ev.MarshalYAML()
	require.NoError(t, err)

	var got StatusEvent
	require.NoError(t, got.UnmarshalYAML(data))
	assert.Equal(t, ev, got)
}
