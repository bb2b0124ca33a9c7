package feed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventIDIgnoresObservationTime(t *testing.T) {
	a := Event{Topic: RoomMessages("r1"), Op: OpInsert, Table: "chat_messages", Key: "m1",
		Data: json.RawMessage(`{"id":"m1"}`), At: time.Unix(1, 0)}
	b := a
	b.At = time.Unix(2, 0)
	assert.Equal(t, a.ID(), b.ID())

	c := a
	c.Topic = RoomMessages("r2")
	assert.NotEqual(t, a.ID(), c.ID())

	d := a
	d.Data = json.RawMessage(`{"id":"m1","body":"x"}`)
	assert.NotEqual(t, a.ID(), d.ID())
}

func TestEventSurvivesRelayEncoding(t *testing.T) {
	evs, err := Fanout(OpUpdate, "chat_rooms", "r1", map[string]string{"id": "r1"}, time.Now().UTC(),
		ProfileRooms("u1"), ProfileRooms("u2"))
	require.NoError(t, err)

	raw, err := json.Marshal(evs[1])
	require.NoError(t, err)
	var got Event
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, evs[1].ID(), got.ID())
	assert.True(t, evs[1].At.Equal(got.At))
}
