package models

import "time"

// EventType names a room event pushed to connected clients.
type EventType string

const (
	EventRoomCreated    EventType = "room-created"
	EventPlayerJoined   EventType = "player-joined"
	EventPlayerLeft     EventType = "player-left"
	EventRoundStarted   EventType = "round-started"
	EventPhaseChanged   EventType = "phase-changed"
	EventActRecorded    EventType = "act-recorded"
	EventFirstActor     EventType = "first-actor-determined"
	EventRoundFinished  EventType = "round-finished"
	EventRoundReset     EventType = "round-reset"
	EventRoomForceEnded EventType = "room-force-ended"
	EventJoinsToggled   EventType = "joins-toggled"
	EventRoomDeleted    EventType = "room-deleted"
)

// Event 房间事件，由状态机产生，传输层负责广播
type Event struct {
	Type           EventType          `json:"type"`
	RoomID         string             `json:"room_id"`
	Round          int                `json:"round,omitempty"`
	Status         RoomStatus         `json:"status,omitempty"`
	PlayerID       string             `json:"player_id,omitempty"`
	Name           string             `json:"name,omitempty"`
	HostID         string             `json:"host_id,omitempty"`
	StartedAt      time.Time          `json:"started_at,omitzero"`
	DurationMs     int64              `json:"duration_ms,omitempty"`
	FirstActor     *FirstActor        `json:"first_actor,omitempty"`
	Leaderboard    []LeaderboardEntry `json:"leaderboard,omitempty"`
	AcceptingJoins *bool              `json:"accepting_joins,omitempty"`
	At             time.Time          `json:"at"`
}
