// models/models.go
package models

import (
	"sort"
	"strings"
	"time"
)

// SchemaVersion 是房间与回合快照的序列化版本
const SchemaVersion = 1

// RoomStatus 房间所处的回合阶段
type RoomStatus string

const (
	StatusWaiting   RoomStatus = "waiting"
	StatusActive    RoomStatus = "active"
	StatusPostTimer RoomStatus = "post-timer"
	StatusFinished  RoomStatus = "finished"
)

// Valid reports whether s is one of the known statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusPostTimer, StatusFinished:
		return true
	}
	return false
}

// Player 房间内的玩家
type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	ActCount int       `json:"act_count"`
	JoinedAt time.Time `json:"joined_at"`
}

// FirstActor records the single winning act of a round.
type FirstActor struct {
	PlayerID string    `json:"player_id"`
	Name     string    `json:"name"`
	At       time.Time `json:"at"`
}

// Room 房间聚合，房间状态与首位记录的唯一来源
type Room struct {
	Version         int                `json:"schema_version"`
	ID              string             `json:"id"`
	HostID          string             `json:"host_id"`
	Players         map[string]*Player `json:"players"`
	Status          RoomStatus         `json:"status"`
	MaxPlayers      int                `json:"max_players"`
	CreatedAt       time.Time          `json:"created_at"`
	FirstActor      *FirstActor        `json:"first_actor,omitempty"`
	AcceptingJoins  bool               `json:"accepting_joins"`
	Round           int                `json:"round"`
	RoundStartedAt  time.Time          `json:"round_started_at,omitzero"`
	RoundDurationMs int64              `json:"round_duration_ms,omitempty"`
	Participants    []string           `json:"participants,omitempty"`
}

// NewRoom creates a waiting room whose only member is the host.
func NewRoom(id, hostID, hostName string, maxPlayers int, now time.Time) *Room {
	return &Room{
		Version: SchemaVersion,
		ID:      id,
		HostID:  hostID,
		Players: map[string]*Player{
			hostID: {ID: hostID, Name: hostName, JoinedAt: now},
		},
		Status:         StatusWaiting,
		MaxPlayers:     maxPlayers,
		CreatedAt:      now,
		AcceptingJoins: true,
	}
}

// NameTaken reports whether another player already uses name, ignoring case.
func (r *Room) NameTaken(name string) bool {
	for _, p := range r.Players {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// Full reports whether the roster is at capacity.
func (r *Room) Full() bool {
	return len(r.Players) >= r.MaxPlayers
}

// ResetRound clears the first-actor record, the participants and every act count.
func (r *Room) ResetRound() {
	r.FirstActor = nil
	r.Participants = nil
	for _, p := range r.Players {
		p.ActCount = 0
	}
}

// Participating reports whether id was in the roster when the current round
// started. Players who join mid-round watch it without racing.
func (r *Room) Participating(id string) bool {
	i := sort.SearchStrings(r.Participants, id)
	return i < len(r.Participants) && r.Participants[i] == id
}

// DropParticipant removes id from the current round's participants.
func (r *Room) DropParticipant(id string) {
	i := sort.SearchStrings(r.Participants, id)
	if i < len(r.Participants) && r.Participants[i] == id {
		r.Participants = append(r.Participants[:i:i], r.Participants[i+1:]...)
	}
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (r *Room) Clone() *Room {
	c := *r
	c.Players = make(map[string]*Player, len(r.Players))
	for id, p := range r.Players {
		cp := *p
		c.Players[id] = &cp
	}
	if r.Participants != nil {
		c.Participants = append([]string(nil), r.Participants...)
	}
	if r.FirstActor != nil {
		fa := *r.FirstActor
		c.FirstActor = &fa
	}
	return &c
}

// GameState 进行中回合的只读投影
type GameState struct {
	Version    int        `json:"schema_version"`
	RoomID     string     `json:"room_id"`
	Round      int        `json:"round"`
	Status     RoomStatus `json:"status"`
	Players    []Player   `json:"players"`
	StartedAt  time.Time  `json:"started_at"`
	DurationMs int64      `json:"duration_ms"`
}

// EndsAt returns the nominal expiry of the round countdown.
func (g *GameState) EndsAt() time.Time {
	return g.StartedAt.Add(time.Duration(g.DurationMs) * time.Millisecond)
}

// RoomSnapshot is the read view handed to callers of the room operations.
type RoomSnapshot struct {
	Room        *Room              `json:"room"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// Snapshot builds a RoomSnapshot from a copy of r.
func Snapshot(r *Room) RoomSnapshot {
	c := r.Clone()
	return RoomSnapshot{Room: c, Leaderboard: Leaderboard(c.Players)}
}
