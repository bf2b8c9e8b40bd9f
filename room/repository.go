package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wfunc/tapserver/models"
	"github.com/wfunc/tapserver/persistence"
)

// DefaultTTL is how long an untouched room survives in the store.
const DefaultTTL = time.Hour

const (
	roomPrefix        = "room:"
	gamePrefix        = "game:"
	playerIndexPrefix = "player-index:"
)

func roomKey(id string) string { return roomPrefix + id }
func gameKey(id string) string { return gamePrefix + id }
func playerIndexKey(id string) string { return playerIndexPrefix + id }

// Repository 负责房间/回合快照的序列化、键命名与 TTL 策略
type Repository struct {
	store persistence.KeyValueStore
	ttl   time.Duration
}

// NewRepository wraps store; a non-positive ttl falls back to DefaultTTL.
func NewRepository(store persistence.KeyValueStore, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repository{store: store, ttl: ttl}
}

// TTL returns the expiry applied on every write.
func (r *Repository) TTL() time.Duration {
	return r.ttl
}

// GetRoom returns ErrNotFound only when the key is absent; backend failures
// and undecodable blobs come back as *StorageError.
func (r *Repository) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	if !plausibleRoomID(id) {
		return nil, fmt.Errorf("room %q: %w", id, ErrNotFound)
	}
	key := roomKey(id)
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, persistence.ErrKeyNotFound) {
		return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}

	room, err := models.DecodeRoom(data)
	if err != nil {
		return nil, &StorageError{Op: "decode", Key: key, Err: err}
	}
	return room, nil
}

// SaveRoom replaces the whole room blob and refreshes its TTL.
func (r *Repository) SaveRoom(ctx context.Context, room *models.Room) error {
	key := roomKey(room.ID)
	data, err := models.EncodeRoom(room)
	if err != nil {
		return &StorageError{Op: "encode", Key: key, Err: err}
	}
	if err := r.store.SetWithTTL(ctx, key, r.ttl, data); err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (r *Repository) DeleteRoom(ctx context.Context, id string) error {
	key := roomKey(id)
	if err := r.store.Delete(ctx, key); err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// ListRoomIDs returns every stored room id in sorted order.
func (r *Repository) ListRoomIDs(ctx context.Context) ([]string, error) {
	keys, err := r.store.ListKeys(ctx, roomPrefix)
	if err != nil {
		return nil, &StorageError{Op: "list", Key: roomPrefix, Err: err}
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, roomPrefix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) GetGameState(ctx context.Context, roomID string) (*models.GameState, error) {
	key := gameKey(roomID)
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, persistence.ErrKeyNotFound) {
		return nil, fmt.Errorf("game %s: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}

	gs, err := models.DecodeGameState(data)
	if err != nil {
		return nil, &StorageError{Op: "decode", Key: key, Err: err}
	}
	return gs, nil
}

func (r *Repository) SaveGameState(ctx context.Context, gs *models.GameState) error {
	key := gameKey(gs.RoomID)
	data, err := models.EncodeGameState(gs)
	if err != nil {
		return &StorageError{Op: "encode", Key: key, Err: err}
	}
	if err := r.store.SetWithTTL(ctx, key, r.ttl, data); err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (r *Repository) DeleteGameState(ctx context.Context, roomID string) error {
	key := gameKey(roomID)
	if err := r.store.Delete(ctx, key); err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// PlayerRooms returns the rooms a player is indexed against.
func (r *Repository) PlayerRooms(ctx context.Context, playerID string) ([]string, error) {
	key := playerIndexKey(playerID)
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, persistence.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, &StorageError{Op: "decode", Key: key, Err: err}
	}
	return ids, nil
}

// IndexPlayer adds roomID to the player's index. Callers hold the player lock.
func (r *Repository) IndexPlayer(ctx context.Context, playerID, roomID string) error {
	ids, err := r.PlayerRooms(ctx, playerID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == roomID {
			return r.writeIndex(ctx, playerID, ids)
		}
	}
	return r.writeIndex(ctx, playerID, append(ids, roomID))
}

// UnindexPlayer removes roomID from the player's index, deleting it when empty.
// Callers hold the player lock.
func (r *Repository) UnindexPlayer(ctx context.Context, playerID, roomID string) error {
	ids, err := r.PlayerRooms(ctx, playerID)
	if err != nil {
		return err
	}

	kept := ids[:0]
	for _, id := range ids {
		if id != roomID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		key := playerIndexKey(playerID)
		if err := r.store.Delete(ctx, key); err != nil {
			return &StorageError{Op: "delete", Key: key, Err: err}
		}
		return nil
	}
	return r.writeIndex(ctx, playerID, kept)
}

func (r *Repository) writeIndex(ctx context.Context, playerID string, ids []string) error {
	key := playerIndexKey(playerID)
	data, err := json.Marshal(ids)
	if err != nil {
		return &StorageError{Op: "encode", Key: key, Err: err}
	}
	if err := r.store.SetWithTTL(ctx, key, r.ttl, data); err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	return nil
}
