package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/tapserver/logger"
	"github.com/wfunc/tapserver/network"
	"github.com/wfunc/tapserver/room"
	"github.com/wfunc/tapserver/session"
)

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	sess := session.NewSession("", wsConn)
	sess.SetActLimit(s.cfg.ActRate, s.cfg.ActBurst)
	if s.cfg.Heartbeat > 0 {
		wsConn.SetHeartbeat(s.cfg.Heartbeat)
	}
	s.sessions.Add(sess)
	s.monitor.IncOnlinePlayers()

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessions.Remove(sess.GetID())
		s.monitor.DecOnlinePlayers()

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := s.machine.Disconnect(ctx, sess.GetID()); err != nil {
			logger.Log.Warnf("Disconnect cleanup for %s: %v", sess.GetID(), err)
		}
		sess.Close()
	}()

	if err := s.reply(sess, network.MsgTypeHeartbeat, network.Welcome{PlayerID: sess.GetID()}); err != nil {
		return
	}

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	start := time.Now()
	s.monitor.IncMessagesReceived(strconv.Itoa(int(packet.MsgID)))
	defer func() { s.monitor.ObserveMessageLatency(time.Since(start)) }()

	sess.Touch()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var (
		resp any
		err  error
	)
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		resp = struct{}{}
	case network.MsgTypeCreateRoom:
		resp, err = s.handleCreateRoom(ctx, sess, packet)
	case network.MsgTypeJoinRoom:
		resp, err = s.handleJoinRoom(ctx, sess, packet)
	case network.MsgTypeLeaveRoom:
		resp, err = s.handleLeaveRoom(ctx, sess, packet)
	case network.MsgTypeStartRound:
		resp, err = s.handleStartRound(ctx, sess, packet)
	case network.MsgTypeResetRoom:
		resp, err = s.handleResetRoom(ctx, sess, packet)
	case network.MsgTypeEndRound:
		resp, err = s.handleEndRound(ctx, sess, packet)
	case network.MsgTypeForceEnd:
		resp, err = s.handleForceEnd(ctx, sess, packet)
	case network.MsgTypeSetJoins:
		resp, err = s.handleSetJoins(ctx, sess, packet)
	case network.MsgTypePlayerAct:
		resp, err = s.handlePlayerAct(ctx, sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
		err = fmt.Errorf("%w: %d", errUnknownMsg, packet.MsgID)
	}

	if err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}
	if err := s.reply(sess, packet.MsgID, resp); err != nil {
		logger.Log.Debugf("Reply to session %s failed: %v", sess.GetID(), err)
	}
}

func (s *GameServer) reply(sess *session.Session, msgID uint16, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sess.Send(msgID, data)
}

func (s *GameServer) sendError(sess *session.Session, request uint16, err error) {
	code, _ := errorCode(err)
	if code == CodeInternal || code == CodeStorage {
		logger.Log.Errorf("Session %s request %d failed: %v", sess.GetID(), request, err)
	}
	_ = s.reply(sess, network.MsgTypeError, network.ErrorReply{
		Code:    code,
		Message: err.Error(),
		Request: request,
	})
}

func decode[T any](packet *network.Packet) (T, error) {
	var req T
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		return req, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return req, nil
}

type roomAck struct {
	RoomID string `json:"room_id"`
}

func (s *GameServer) handleCreateRoom(ctx context.Context, sess *session.Session, packet *network.Packet) (any, error) {
	req, err := decode[network.CreateRoomRequest](packet)
	if err != nil {
		return nil, err
	}
	snap, err := s.machine.Create(ctx, sess.GetID(), req.Name)
	if err != nil {
		return nil, err
	}
	sess.JoinRoom(snap.Room.ID)
	return snap, nil
}

func (s *GameServer) handleJoinRoom(ctx context.Context, sess *session.Session, packet *network.Packet) (any, error) {
	req, err := decode[network.JoinRoomRequest](packet)
	if err != nil {
		return nil, err
	}
	res, err := s.machine.Join(ctx, sess.GetID(), req.RoomID, req.Name)
	if err != nil {
		return nil, err
	}
	// 重复加入不会产生事件，这里补上归属
	sess.JoinRoom(res.Snapshot.Room.ID)
	return res, nil
}

func (s *GameServer) handleLeaveRoom(ctx context.Context, sess *session.Session, packet *network.Packet) (any, error) {
	req, err := decode[network.RoomRequest](packet)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Leave(ctx, sess.GetID(), req.RoomID); err != nil {
		return nil, err
	}
	return roomAck{RoomID: req.RoomID}, nil
}

func (s *GameServer) handleStartRound(ctx context.Context, sess *session.Session, packet *network.Packet) (any, error) {
	req, err := decode[network.StartRoundRequest](packet)
	if err != nil {
		return nil, err
	}
	return s.machine.Start(ctx, req.RoomID, sess.GetID(), req.DurationSeconds)
}

// handleResetRoom and handleEndRound are host-only over the websocket; the
// admin RPC calls the machine directly.
func (s *GameServer) handleResetRoom(ctx context.Context, sess *session.Session, packet *network.Packet) (any, error) {
	req, err := decode[network.RoomRequest](packet)
	if err != nil {
		return nil, err
	}
	if err := s.requireHost(ctx, sess, req.RoomID); err != nil {
		return nil, err
	}
	if err := s.machine.Reset(ctx, req.RoomID); err != nil {
		return nil, err
	}
	return roomAck{RoomID: req.RoomID}, nil
}

func (s *GameServer) handleEndRound(ctx context.Context, sess *session.Session, packet *network.Packet) (any, error) {
	req, err := decode[network.RoomRequest](packet)
	if err != nil {
		return nil, err
	}
	if err := s.requireHost(ctx, sess, req.RoomID); err != nil {
		return nil, err
	}
	return s.machine.End(ctx, req.RoomID)
}

func (s *GameServer) handleForceEnd(ctx context.Context, sess *session.Session, packet *network.Packet) (any, error) {
	req, err := decode[network.RoomRequest](packet)
	if err != nil {
		return nil, err
	}
	return s.machine.ForceEnd(ctx, req.RoomID, sess.GetID())
}

func (s *GameServer) handleSetJoins(ctx context.Context, sess *session.Session, packet *network.Packet) (any, error) {
	req, err := decode[network.SetJoinsRequest](packet)
	if err != nil {
		return nil, err
	}
	if err := s.machine.SetAcceptingJoins(ctx, req.RoomID, sess.GetID(), req.Accepting); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *GameServer) handlePlayerAct(ctx context.Context, sess *session.Session, packet *network.Packet) (any, error) {
	req, err := decode[network.RoomRequest](packet)
	if err != nil {
		return nil, err
	}
	if !sess.AllowAct() {
		return nil, errRateLimited
	}
	return s.machine.Act(ctx, sess.GetID(), req.RoomID)
}

func (s *GameServer) requireHost(ctx context.Context, sess *session.Session, roomID string) error {
	snap, err := s.machine.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if snap.Room.HostID != sess.GetID() {
		return room.ErrNotHost
	}
	return nil
}
