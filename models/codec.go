package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSchemaVersion is returned when a stored blob has an unknown schema version.
var ErrSchemaVersion = errors.New("unsupported schema version")

// EncodeRoom 序列化房间
func EncodeRoom(r *Room) ([]byte, error) {
	if r.Version == 0 {
		r.Version = SchemaVersion
	}
	return json.Marshal(r)
}

// DecodeRoom 反序列化房间，并校验版本与状态
func DecodeRoom(data []byte) (*Room, error) {
	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	if r.Version != SchemaVersion {
		return nil, fmt.Errorf("decode room: %w: %d", ErrSchemaVersion, r.Version)
	}
	if !r.Status.Valid() {
		return nil, fmt.Errorf("decode room: unknown status %q", r.Status)
	}
	if r.Players == nil {
		r.Players = make(map[string]*Player)
	}
	return &r, nil
}

// EncodeGameState 序列化回合快照
func EncodeGameState(g *GameState) ([]byte, error) {
	if g.Version == 0 {
		g.Version = SchemaVersion
	}
	return json.Marshal(g)
}

// DecodeGameState 反序列化回合快照
func DecodeGameState(data []byte) (*GameState, error) {
	var g GameState
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	if g.Version != SchemaVersion {
		return nil, fmt.Errorf("decode game state: %w: %d", ErrSchemaVersion, g.Version)
	}
	return &g, nil
}
