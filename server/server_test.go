package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tapserver/broadcast"
	"github.com/wfunc/tapserver/config"
	"github.com/wfunc/tapserver/models"
	"github.com/wfunc/tapserver/monitor"
	"github.com/wfunc/tapserver/network"
	"github.com/wfunc/tapserver/persistence"
	"github.com/wfunc/tapserver/room"
	"github.com/wfunc/tapserver/session"
)

type testEnv struct {
	machine *room.Machine
	server  *GameServer
	http    *httptest.Server
}

func newTestEnv(t *testing.T, cfg config.ServerConfig) *testEnv {
	t.Helper()

	store := persistence.NewMemoryStore()
	sessions := session.NewManager()
	mon := monitor.NewMonitor("test")

	machine := room.NewMachine(store, room.Options{SettleWindow: -1, TimerResolution: 5 * time.Millisecond})
	machine.AddSink(broadcast.NewRoomBroadcaster(sessions))
	machine.AddSink(mon)
	t.Cleanup(machine.Close)

	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://tap.test"
	}
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{"*"}
	}

	gs := NewGameServer(cfg, Deps{Machine: machine, Sessions: sessions, Monitor: mon, Store: store})
	ts := httptest.NewServer(gs.Router())
	t.Cleanup(ts.Close)

	return &testEnv{machine: machine, server: gs, http: ts}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &wsClient{t: t, conn: conn}
	var welcome network.Welcome
	c.expect(network.MsgTypeHeartbeat, &welcome)
	require.NotEmpty(t, welcome.PlayerID)
	c.id = welcome.PlayerID
	return c
}

func (c *wsClient) send(msgID uint16, v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	frame, err := network.EncodeFrame(msgID, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.BinaryMessage, frame))
}

// expect reads frames until one with msgID arrives, skipping room events.
func (c *wsClient) expect(msgID uint16, out any) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		pkt, err := network.DecodeFrame(data)
		require.NoError(c.t, err)
		if pkt.MsgID != msgID {
			continue
		}
		if out != nil {
			require.NoError(c.t, json.Unmarshal(pkt.Data, out))
		}
		return
	}
}

// expectEvent reads frames until a room event of the given type arrives.
func (c *wsClient) expectEvent(typ models.EventType) models.Event {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		pkt, err := network.DecodeFrame(data)
		require.NoError(c.t, err)
		if pkt.MsgID != network.MsgTypeRoomEvent {
			continue
		}
		var ev models.Event
		require.NoError(c.t, json.Unmarshal(pkt.Data, &ev))
		if ev.Type == typ {
			return ev
		}
	}
}

func TestWebSocket_RoomLifecycle(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	host := env.dial(t)
	host.send(network.MsgTypeCreateRoom, network.CreateRoomRequest{Name: "Host"})
	var created models.RoomSnapshot
	host.expect(network.MsgTypeCreateRoom, &created)
	roomID := created.Room.ID
	assert.Equal(t, host.id, created.Room.HostID)

	guest := env.dial(t)
	guest.send(network.MsgTypeJoinRoom, network.JoinRoomRequest{RoomID: strings.ToLower(roomID), Name: "Guest"})
	var joined room.JoinResult
	guest.expect(network.MsgTypeJoinRoom, &joined)
	assert.Len(t, joined.Snapshot.Room.Players, 2)

	ev := host.expectEvent(models.EventPlayerJoined)
	assert.Equal(t, guest.id, ev.PlayerID)

	guest.send(network.MsgTypeStartRound, network.StartRoundRequest{RoomID: roomID, DurationSeconds: 5})
	var errReply network.ErrorReply
	guest.expect(network.MsgTypeError, &errReply)
	assert.Equal(t, CodeNotHost, errReply.Code)
	assert.EqualValues(t, network.MsgTypeStartRound, errReply.Request)

	host.send(network.MsgTypeStartRound, network.StartRoundRequest{RoomID: roomID, DurationSeconds: 60})
	var gs models.GameState
	host.expect(network.MsgTypeStartRound, &gs)
	assert.Equal(t, int64(60000), gs.DurationMs)

	started := guest.expectEvent(models.EventRoundStarted)
	assert.Equal(t, int64(60000), started.DurationMs)

	guest.send(network.MsgTypePlayerAct, network.RoomRequest{RoomID: roomID})
	guest.expect(network.MsgTypeError, &errReply)
	assert.Equal(t, CodeNotAcceptingActs, errReply.Code)

	guest.send(network.MsgTypeEndRound, network.RoomRequest{RoomID: roomID})
	guest.expect(network.MsgTypeError, &errReply)
	assert.Equal(t, CodeNotHost, errReply.Code)

	host.send(network.MsgTypeForceEnd, network.RoomRequest{RoomID: roomID})
	var after models.RoomSnapshot
	host.expect(network.MsgTypeForceEnd, &after)
	assert.Equal(t, models.StatusFinished, after.Room.Status)
	assert.Len(t, after.Room.Players, 1)

	left := guest.expectEvent(models.EventPlayerLeft)
	assert.Equal(t, guest.id, left.PlayerID)
}

func TestWebSocket_BadRequests(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	c := env.dial(t)

	frame, err := network.EncodeFrame(network.MsgTypeJoinRoom, []byte("{oops"))
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, frame))

	var reply network.ErrorReply
	c.expect(network.MsgTypeError, &reply)
	assert.Equal(t, CodeBadRequest, reply.Code)

	c.send(999, struct{}{})
	c.expect(network.MsgTypeError, &reply)
	assert.Equal(t, CodeBadRequest, reply.Code)
	assert.EqualValues(t, 999, reply.Request)

	c.send(network.MsgTypeJoinRoom, network.JoinRoomRequest{RoomID: "NOPE", Name: "x"})
	c.expect(network.MsgTypeError, &reply)
	assert.Equal(t, CodeNotFound, reply.Code)
}

func TestWebSocket_ActRateLimit(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{ActRate: 0.001, ActBurst: 1})
	c := env.dial(t)

	c.send(network.MsgTypePlayerAct, network.RoomRequest{RoomID: "NOPE"})
	var reply network.ErrorReply
	c.expect(network.MsgTypeError, &reply)
	assert.Equal(t, CodeNotFound, reply.Code)

	c.send(network.MsgTypePlayerAct, network.RoomRequest{RoomID: "NOPE"})
	c.expect(network.MsgTypeError, &reply)
	assert.Equal(t, CodeRateLimited, reply.Code)
}

func TestWebSocket_DisconnectLeavesRoom(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	host := env.dial(t)
	host.send(network.MsgTypeCreateRoom, network.CreateRoomRequest{Name: "Host"})
	var created models.RoomSnapshot
	host.expect(network.MsgTypeCreateRoom, &created)

	guest := env.dial(t)
	guest.send(network.MsgTypeJoinRoom, network.JoinRoomRequest{RoomID: created.Room.ID, Name: "Guest"})
	guest.expect(network.MsgTypeJoinRoom, nil)

	require.NoError(t, guest.conn.Close())

	ev := host.expectEvent(models.EventPlayerLeft)
	assert.Equal(t, guest.id, ev.PlayerID)

	snap, err := env.machine.Get(t.Context(), created.Room.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Room.Players, 1)
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHTTP_Rooms(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	ctx := t.Context()

	snap, err := env.machine.Create(ctx, "h", "Host")
	require.NoError(t, err)
	id := snap.Room.ID

	resp, body := get(t, env.http.URL+"/rooms")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rooms []models.RoomSnapshot
	require.NoError(t, json.Unmarshal(body, &rooms))
	require.Len(t, rooms, 1)

	resp, body = get(t, env.http.URL+"/rooms/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"host_id":"h"`)

	resp, body = get(t, env.http.URL+"/rooms/NOPE")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), CodeNotFound)

	resp, body = get(t, env.http.URL+"/rooms/"+id+"/qr.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))

	resp, _ = get(t, env.http.URL+"/rooms/"+id+"/rounds")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, "http://tap.test/?room="+id, env.server.JoinURL(id))
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp, body := get(t, env.http.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	resp, body = get(t, env.http.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "test_online_players")
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("room X: %w", room.ErrNotFound), CodeNotFound, http.StatusNotFound},
		{&room.StorageError{Op: "get", Key: "room:X", Err: errors.New("timeout")}, CodeStorage, http.StatusServiceUnavailable},
		{room.ErrInvalidName, CodeBadRequest, http.StatusBadRequest},
		{errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		code, status := errorCode(c.err)
		assert.Equal(t, c.code, code, c.err.Error())
		assert.Equal(t, c.status, status, c.err.Error())
	}
}
