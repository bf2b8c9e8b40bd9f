package rpc

import (
	"context"
	"errors"
	"net/rpc"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wfunc/tapserver/models"
	"github.com/wfunc/tapserver/persistence"
	"github.com/wfunc/tapserver/room"
	"github.com/wfunc/tapserver/services"
)

func startRoomService(t *testing.T) (*room.Machine, *rpc.Client) {
	t.Helper()

	machine := room.NewMachine(persistence.NewMemoryStore(), room.Options{SettleWindow: -1})
	t.Cleanup(machine.Close)

	srv, err := NewServer("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, srv.Register(NewRoomService(machine, nil)))
	go srv.Start()
	t.Cleanup(srv.Stop)

	client, err := rpc.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return machine, client
}

func TestRoomService(t *testing.T) {
	machine, client := startRoomService(t)
	ctx := context.Background()

	snap, err := machine.Create(ctx, "h", "Host")
	require.NoError(t, err)
	id := snap.Room.ID

	var rooms RoomsReply
	require.NoError(t, client.Call("RoomService.ListRooms", &ListArgs{}, &rooms))
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, id, rooms.Rooms[0].Room.ID)

	_, err = machine.Start(ctx, id, "h", 60)
	require.NoError(t, err)

	var round RoundReply
	require.NoError(t, client.Call("RoomService.EndRound", &RoomArgs{RoomID: id}, &round))
	assert.Equal(t, 1, round.Result.Round)

	var got RoomReply
	require.NoError(t, client.Call("RoomService.GetRoom", &RoomArgs{RoomID: id}, &got))
	assert.Equal(t, models.StatusFinished, got.Room.Room.Status)

	var ack Ack
	require.NoError(t, client.Call("RoomService.ResetRoom", &RoomArgs{RoomID: id}, &ack))
	assert.True(t, ack.OK)

	var after RoomReply
	require.NoError(t, client.Call("RoomService.GetRoom", &RoomArgs{RoomID: id}, &after))
	assert.Equal(t, models.StatusWaiting, after.Room.Room.Status)

	var missing RoomReply
	err = client.Call("RoomService.GetRoom", &RoomArgs{RoomID: "NOPE"}, &missing)
	assert.ErrorContains(t, err, room.ErrNotFound.Error())

	var recent RecentRoundsReply
	err = client.Call("RoomService.RecentRounds", &RecentRoundsArgs{RoomID: id}, &recent)
	assert.ErrorContains(t, err, services.ErrArchiveDisabled.Error())
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthServer_FollowsStorePing(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	pinger := pingFunc(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("store unreachable")
	})

	hs, err := NewHealthServer("127.0.0.1:0", pinger, 20*time.Millisecond)
	require.NoError(t, err)
	go hs.Start()
	t.Cleanup(hs.Stop)

	conn, err := grpc.NewClient(hs.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	statusOf := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: StoreService})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	require.Eventually(t, func() bool {
		return statusOf() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 20*time.Millisecond)

	healthy.Store(false)
	require.Eventually(t, func() bool {
		return statusOf() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 20*time.Millisecond)
}
