package network

import "encoding/json"

// 客户端请求，回复复用请求的消息ID
const (
	MsgTypeHeartbeat  = 1
	MsgTypeJoinRoom   = 101
	MsgTypeLeaveRoom  = 102
	MsgTypeCreateRoom = 103
	MsgTypeStartRound = 104
	MsgTypeResetRoom  = 105
	MsgTypeEndRound   = 106
	MsgTypeForceEnd   = 107
	MsgTypeSetJoins   = 108
	MsgTypePlayerAct  = 202
	MsgTypeRoomEvent  = 300
	MsgTypeError      = 500
)

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type JoinRoomRequest struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
}

// RoomRequest is the payload of leave, reset, end, force-end and act.
type RoomRequest struct {
	RoomID string `json:"room_id"`
}

type StartRoundRequest struct {
	RoomID          string `json:"room_id"`
	DurationSeconds int    `json:"duration_seconds"`
}

type SetJoinsRequest struct {
	RoomID    string `json:"room_id"`
	Accepting bool   `json:"accepting"`
}

// Welcome is pushed on the heartbeat id right after connecting.
type Welcome struct {
	PlayerID string `json:"player_id"`
}

// ErrorReply 服务端错误推送
type ErrorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Request uint16 `json:"request"`
}

// SendJSON marshals v and sends it on conn.
func SendJSON(conn Connection, msgID uint16, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Send(msgID, data)
}
