package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoom_KeepsFirstActorAndRoster(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	room := NewRoom("ABC123", "host", "Host", 10, now)
	room.Status = StatusPostTimer
	room.Players["host"].ActCount = 3
	room.FirstActor = &FirstActor{PlayerID: "host", Name: "Host", At: now}

	data, err := EncodeRoom(room)
	require.NoError(t, err)

	decoded, err := DecodeRoom(data)
	require.NoError(t, err)
	assert.Equal(t, StatusPostTimer, decoded.Status)
	assert.Equal(t, 3, decoded.Players["host"].ActCount)
	require.NotNil(t, decoded.FirstActor)
	assert.True(t, decoded.FirstActor.At.Equal(now))
	assert.True(t, decoded.AcceptingJoins)
}

func TestDecodeRoom_RejectsUnknownVersion(t *testing.T) {
	_, err := DecodeRoom([]byte(`{"schema_version":99,"id":"X","status":"waiting"}`))
	assert.True(t, errors.Is(err, ErrSchemaVersion), "expected ErrSchemaVersion, got %v", err)
}

func TestDecodeRoom_RejectsUnknownStatus(t *testing.T) {
	_, err := DecodeRoom([]byte(`{"schema_version":1,"id":"X","status":"paused"}`))
	assert.Error(t, err)
}

func TestDecodeRoom_NilPlayersBecomesEmptyMap(t *testing.T) {
	r, err := DecodeRoom([]byte(`{"schema_version":1,"id":"X","status":"waiting"}`))
	require.NoError(t, err)
	assert.NotNil(t, r.Players)
}

func TestDecodeGameState_RejectsGarbage(t *testing.T) {
	_, err := DecodeGameState([]byte("not json"))
	assert.Error(t, err)
}

func TestRoomClone_IsDeep(t *testing.T) {
	room := NewRoom("R1", "h", "H", 4, time.Now())
	c := room.Clone()
	c.Players["h"].ActCount = 5
	c.Players["x"] = &Player{ID: "x"}

	assert.Equal(t, 0, room.Players["h"].ActCount)
	assert.Len(t, room.Players, 1)
}

func TestRoom_NameTakenIgnoresCase(t *testing.T) {
	room := NewRoom("R1", "h", "Alice", 4, time.Now())
	assert.True(t, room.NameTaken("ALICE"))
	assert.False(t, room.NameTaken("Bob"))
}
