package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/tapserver/logger"
	"github.com/wfunc/tapserver/models"
	"github.com/wfunc/tapserver/room"
	"github.com/wfunc/tapserver/services"
)

const callTimeout = 5 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	rpc      *rpc.Server
	address  string
}

// NewServer listens on addr. Services are added with Register before Start.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		rpc:      rpc.NewServer(),
		address:  listener.Addr().String(),
	}, nil
}

// Register exposes rcvr's exported methods under its type name.
func (s *Server) Register(rcvr any) error {
	return s.rpc.Register(rcvr)
}

func (s *Server) Addr() string {
	return s.address
}

// Start serves connections until Stop closes the listener.
func (s *Server) Start() error {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return nil
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// RoomService 运维用的房间接口
//
// Methods follow the net/rpc signature: exported method, exported arguments,
// second argument is a pointer, return type is error.
type RoomService struct {
	machine *room.Machine
	archive *services.ArchiveService
}

// NewRoomService creates a RoomService; archive may be nil.
func NewRoomService(machine *room.Machine, archive *services.ArchiveService) *RoomService {
	return &RoomService{machine: machine, archive: archive}
}

// ListArgs limits ListRooms; zero means no limit.
type ListArgs struct {
	Limit int
}

type Ack struct {
	OK bool
}

type RoomArgs struct {
	RoomID string
}

type RoomsReply struct {
	Rooms []models.RoomSnapshot
}

type RoomReply struct {
	Room models.RoomSnapshot
}

type RoundReply struct {
	Result room.RoundResult
}

type RecentRoundsArgs struct {
	RoomID string
	Limit  int
}

type RecentRoundsReply struct {
	Rounds []models.RoundRecord
}

func (rs *RoomService) ListRooms(args *ListArgs, reply *RoomsReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	rooms, err := rs.machine.List(ctx)
	if err != nil {
		return err
	}
	if args.Limit > 0 && len(rooms) > args.Limit {
		rooms = rooms[:args.Limit]
	}
	reply.Rooms = rooms
	return nil
}

func (rs *RoomService) GetRoom(args *RoomArgs, reply *RoomReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	snap, err := rs.machine.Get(ctx, args.RoomID)
	if err != nil {
		return err
	}
	reply.Room = snap
	return nil
}

// EndRound finishes the current round of a room.
func (rs *RoomService) EndRound(args *RoomArgs, reply *RoundReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	result, err := rs.machine.End(ctx, args.RoomID)
	if err != nil {
		return err
	}
	reply.Result = result
	return nil
}

func (rs *RoomService) ResetRoom(args *RoomArgs, reply *Ack) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if err := rs.machine.Reset(ctx, args.RoomID); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

func (rs *RoomService) RecentRounds(args *RecentRoundsArgs, reply *RecentRoundsReply) error {
	if rs.archive == nil {
		return services.ErrArchiveDisabled
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	rounds, err := rs.archive.RecentRounds(ctx, room.NormalizeRoomID(args.RoomID), args.Limit)
	if err != nil {
		return err
	}
	reply.Rounds = rounds
	return nil
}
