// broadcast/broadcast.go
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wfunc/tapserver/logger"
	"github.com/wfunc/tapserver/models"
	"github.com/wfunc/tapserver/network"
	"github.com/wfunc/tapserver/session"
)

var (
	ErrRoomEmpty = errors.New("no sessions in room")
)

// 广播接口
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
}

// RoomBroadcaster 把房间事件推送给房间内的连接，同时根据事件维护会话的房间归属
type RoomBroadcaster struct {
	sessionManager *session.Manager
}

func NewRoomBroadcaster(sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		sessionManager: sessionManager,
	}
}

// Publish implements room.EventSink.
func (b *RoomBroadcaster) Publish(ev models.Event) {
	switch ev.Type {
	case models.EventRoomCreated, models.EventPlayerJoined:
		if s, ok := b.sessionManager.Get(ev.PlayerID); ok {
			s.JoinRoom(ev.RoomID)
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Errorf("Encoding %s event for room %s: %v", ev.Type, ev.RoomID, err)
		return
	}
	if err := b.BroadcastToRoom(ev.RoomID, network.MsgTypeRoomEvent, data); err != nil && !errors.Is(err, ErrRoomEmpty) {
		logger.Log.Warnf("Broadcasting %s to room %s: %v", ev.Type, ev.RoomID, err)
	}

	// 离开的玩家也要收到自己的离开事件，之后再解除归属
	switch ev.Type {
	case models.EventPlayerLeft:
		if s, ok := b.sessionManager.Get(ev.PlayerID); ok {
			s.LeaveRoom(ev.RoomID)
		}
	case models.EventRoomDeleted:
		b.sessionManager.ForgetRoom(ev.RoomID)
	}
}

// BroadcastToRoom queues the frame on every member session. It never waits on
// the network, so callers may hold the room lock.
func (b *RoomBroadcaster) BroadcastToRoom(roomID string, msgID uint16, data []byte) error {
	sessions := b.sessionManager.InRoom(roomID)
	if len(sessions) == 0 {
		return ErrRoomEmpty
	}

	var errs []error
	for _, s := range sessions {
		if err := s.Send(msgID, data); err != nil {
			// 队列满的会话已被关闭，读循环负责清理
			logger.Log.Debugf("Queueing frame for session %s failed: %v", s.ID, err)
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}
