// room/machine.go
package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/tapserver/logger"
	"github.com/wfunc/tapserver/models"
	"github.com/wfunc/tapserver/persistence"
	"github.com/wfunc/tapserver/state"
	"github.com/wfunc/tapserver/timer"
)

const (
	DefaultMaxPlayers   = 10
	DefaultSettleWindow = 3 * time.Second

	// timerCallbackTimeout bounds storage work done from timer goroutines.
	timerCallbackTimeout = 5 * time.Second
	maxCodeAttempts      = 16
)

// Options 状态机配置
type Options struct {
	MaxPlayers int
	TTL        time.Duration
	// SettleWindow is how long a post-timer round stays open after the first
	// act before it finishes. Negative leaves the round open until End.
	SettleWindow time.Duration
	// BuzzerMode also accepts acts during the live countdown; the first one
	// wins and finishes the round immediately.
	BuzzerMode      bool
	TimerResolution time.Duration
	Clock           func() time.Time
	CodeGenerator   func() string
	Sinks           []EventSink
}

func (o Options) withDefaults() Options {
	if o.MaxPlayers <= 0 {
		o.MaxPlayers = DefaultMaxPlayers
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.SettleWindow == 0 {
		o.SettleWindow = DefaultSettleWindow
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.CodeGenerator == nil {
		o.CodeGenerator = GenerateRoomCode
	}
	return o
}

// JoinResult is returned by Join. ActiveRound is set when the room is mid-round
// so the client can sync its countdown without taking part in the race.
type JoinResult struct {
	Snapshot    models.RoomSnapshot `json:"snapshot"`
	ActiveRound *models.GameState   `json:"active_round,omitempty"`
}

// ActResult is returned by Act.
type ActResult struct {
	IsWinningAct bool                      `json:"is_winning_act"`
	FirstActor   *models.FirstActor        `json:"first_actor,omitempty"`
	Leaderboard  []models.LeaderboardEntry `json:"leaderboard"`
	Status       models.RoomStatus         `json:"status"`
}

// RoundResult is the outcome of a finished round.
type RoundResult struct {
	RoomID      string                    `json:"room_id"`
	Round       int                       `json:"round"`
	Winner      *models.FirstActor        `json:"winner,omitempty"`
	Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
}

// Machine 房间状态机，是唯一允许修改 Room/GameState 的组件
//
// Every operation on a room runs under that room's lock, so the read-modify-
// write of the room blob is serialized per room id while different rooms
// proceed in parallel.
type Machine struct {
	repo    *Repository
	phases  state.StateMachine
	timers  *timer.TimerManager
	locks   *keyedMutex
	opts    Options
	sinks   []EventSink
	sinksMu sync.RWMutex
}

// NewMachine 创建状态机，状态机拥有自己的回合定时器
func NewMachine(store persistence.KeyValueStore, opts Options) *Machine {
	opts = opts.withDefaults()
	return &Machine{
		repo:   NewRepository(store, opts.TTL),
		phases: state.NewRoundMachine(),
		timers: timer.NewTimerManager(opts.TimerResolution),
		locks:  newKeyedMutex(),
		opts:   opts,
		sinks:  append([]EventSink(nil), opts.Sinks...),
	}
}

// AddSink registers another event consumer.
func (m *Machine) AddSink(sink EventSink) {
	m.sinksMu.Lock()
	defer m.sinksMu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// Close stops the round timers.
func (m *Machine) Close() {
	m.timers.Stop()
}

// Repository exposes the underlying repository for read-only callers.
func (m *Machine) Repository() *Repository {
	return m.repo
}

func roundTimerKey(roomID string) string  { return "round:" + roomID }
func settleTimerKey(roomID string) string { return "settle:" + roomID }

// Create 创建房间，调用者成为房主和唯一成员
func (m *Machine) Create(ctx context.Context, hostID, name string) (models.RoomSnapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.RoomSnapshot{}, ErrInvalidName
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := NormalizeRoomID(m.opts.CodeGenerator())

		snap, created, err := m.tryCreate(ctx, code, hostID, name)
		if err != nil {
			return models.RoomSnapshot{}, err
		}
		if created {
			logger.Log.Infof("Player %s created room %s", hostID, code)
			return snap, nil
		}
	}
	return models.RoomSnapshot{}, fmt.Errorf("no free room code after %d attempts", maxCodeAttempts)
}

func (m *Machine) tryCreate(ctx context.Context, code, hostID, name string) (models.RoomSnapshot, bool, error) {
	unlock := m.locks.Lock(roomKey(code))
	defer unlock()

	_, err := m.repo.GetRoom(ctx, code)
	if err == nil {
		return models.RoomSnapshot{}, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.RoomSnapshot{}, false, err
	}

	room := models.NewRoom(code, hostID, name, m.opts.MaxPlayers, m.now())
	if err := m.indexPlayer(ctx, hostID, code); err != nil {
		return models.RoomSnapshot{}, false, err
	}
	if err := m.repo.SaveRoom(ctx, room); err != nil {
		return models.RoomSnapshot{}, false, err
	}

	m.publish(models.Event{
		Type:     models.EventRoomCreated,
		RoomID:   code,
		Status:   room.Status,
		PlayerID: hostID,
		Name:     name,
		HostID:   hostID,
	})
	return models.Snapshot(room), true, nil
}

// Join 加入房间；任何阶段都允许加入，进行中的回合通过 ActiveRound 返回
func (m *Machine) Join(ctx context.Context, playerID, roomID, name string) (JoinResult, error) {
	roomID = NormalizeRoomID(roomID)
	name = strings.TrimSpace(name)
	if name == "" {
		return JoinResult{}, ErrInvalidName
	}

	unlock := m.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := m.repo.GetRoom(ctx, roomID)
	if err != nil {
		return JoinResult{}, err
	}

	if _, already := room.Players[playerID]; !already {
		if !room.AcceptingJoins {
			return JoinResult{}, ErrJoinsClosed
		}
		if room.NameTaken(name) {
			return JoinResult{}, fmt.Errorf("%w: %q", ErrNameConflict, name)
		}
		if room.Full() {
			return JoinResult{}, ErrRoomFull
		}

		room.Players[playerID] = &models.Player{ID: playerID, Name: name, JoinedAt: m.now()}

		if err := m.indexPlayer(ctx, playerID, roomID); err != nil {
			return JoinResult{}, err
		}
		if err := m.repo.SaveRoom(ctx, room); err != nil {
			return JoinResult{}, err
		}

		logger.Log.Infof("Player %s joined room %s as %q", playerID, roomID, name)
		m.publish(models.Event{
			Type:     models.EventPlayerJoined,
			RoomID:   roomID,
			Status:   room.Status,
			PlayerID: playerID,
			Name:     name,
			HostID:   room.HostID,
		})
	}

	result := JoinResult{Snapshot: models.Snapshot(room)}
	if room.Status == models.StatusActive || room.Status == models.StatusPostTimer {
		gs, err := m.repo.GetGameState(ctx, roomID)
		switch {
		case err == nil:
			result.ActiveRound = gs
		case errors.Is(err, ErrNotFound):
		default:
			logger.Log.Warnf("Room %s: loading game state for joining player %s: %v", roomID, playerID, err)
		}
	}
	return result, nil
}

// Leave 离开房间，幂等
func (m *Machine) Leave(ctx context.Context, playerID, roomID string) error {
	roomID = NormalizeRoomID(roomID)

	unlock := m.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := m.repo.GetRoom(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		m.unindexPlayer(ctx, playerID, roomID)
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := room.Players[playerID]; !ok {
		m.unindexPlayer(ctx, playerID, roomID)
		return nil
	}

	delete(room.Players, playerID)
	room.DropParticipant(playerID)

	if len(room.Players) == 0 {
		if err := m.repo.DeleteRoom(ctx, roomID); err != nil {
			return err
		}
		m.cancelTimers(roomID)
		if err := m.repo.DeleteGameState(ctx, roomID); err != nil {
			logger.Log.Warnf("Room %s: deleting game state: %v", roomID, err)
		}
		m.unindexPlayer(ctx, playerID, roomID)

		logger.Log.Infof("Player %s left room %s, room deleted", playerID, roomID)
		m.publish(models.Event{Type: models.EventPlayerLeft, RoomID: roomID, PlayerID: playerID})
		m.publish(models.Event{Type: models.EventRoomDeleted, RoomID: roomID})
		return nil
	}

	if room.HostID == playerID {
		room.HostID = electHost(room)
	}
	if err := m.repo.SaveRoom(ctx, room); err != nil {
		return err
	}
	m.unindexPlayer(ctx, playerID, roomID)

	logger.Log.Infof("Player %s left room %s, host is %s", playerID, roomID, room.HostID)
	m.publish(models.Event{
		Type:        models.EventPlayerLeft,
		RoomID:      roomID,
		Status:      room.Status,
		PlayerID:    playerID,
		HostID:      room.HostID,
		Leaderboard: models.Leaderboard(room.Players),
	})
	return nil
}

// Disconnect 连接断开时，离开该玩家索引到的所有房间
func (m *Machine) Disconnect(ctx context.Context, playerID string) error {
	roomIDs, err := m.repo.PlayerRooms(ctx, playerID)
	if err != nil {
		return err
	}

	var errs []error
	for _, roomID := range roomIDs {
		if err := m.Leave(ctx, playerID, roomID); err != nil {
			errs = append(errs, fmt.Errorf("leave %s: %w", roomID, err))
		}
	}
	return errors.Join(errs...)
}

// Start 房主开始一个回合
func (m *Machine) Start(ctx context.Context, roomID, callerID string, durationSeconds int) (*models.GameState, error) {
	if durationSeconds <= 0 {
		return nil, ErrInvalidDuration
	}
	roomID = NormalizeRoomID(roomID)

	unlock := m.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := m.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.HostID != callerID {
		return nil, ErrNotHost
	}
	if len(room.Players) == 0 {
		return nil, ErrEmptyRoom
	}
	if room.Status == models.StatusActive || room.Status == models.StatusPostTimer {
		return nil, ErrRoundInProgress
	}
	if err := m.phases.ChangeState(room, models.StatusActive); err != nil {
		return nil, err
	}

	now := m.now()
	duration := time.Duration(durationSeconds) * time.Second
	room.Round++
	room.RoundStartedAt = now
	room.RoundDurationMs = duration.Milliseconds()

	roster := rosterSnapshot(room)
	room.Participants = make([]string, 0, len(roster))
	for _, p := range roster {
		room.Participants = append(room.Participants, p.ID)
	}

	gs := &models.GameState{
		Version:    models.SchemaVersion,
		RoomID:     roomID,
		Round:      room.Round,
		Status:     models.StatusActive,
		Players:    roster,
		StartedAt:  now,
		DurationMs: room.RoundDurationMs,
	}

	// 先写投影再写房间：房间写失败时回合视为未开始
	if err := m.repo.SaveGameState(ctx, gs); err != nil {
		return nil, err
	}
	if err := m.repo.SaveRoom(ctx, room); err != nil {
		if derr := m.repo.DeleteGameState(ctx, roomID); derr != nil {
			logger.Log.Warnf("Room %s: rolling back game state: %v", roomID, derr)
		}
		return nil, err
	}

	round := room.Round
	m.timers.Cancel(settleTimerKey(roomID))
	m.timers.Schedule(roundTimerKey(roomID), duration, func() {
		m.fireTimer(roomID, round, m.OnTimerExpiry)
	})

	logger.Log.Infof("Room %s started round %d for %v", roomID, round, duration)
	m.publish(models.Event{
		Type:        models.EventRoundStarted,
		RoomID:      roomID,
		Round:       round,
		Status:      room.Status,
		StartedAt:   now,
		DurationMs:  gs.DurationMs,
		Leaderboard: models.Leaderboard(room.Players),
	})
	return gs, nil
}

// Act 玩家抢答。只有第一个在锁内看到"尚无首位记录"的调用会写入首位记录
func (m *Machine) Act(ctx context.Context, playerID, roomID string) (ActResult, error) {
	roomID = NormalizeRoomID(roomID)

	unlock := m.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := m.repo.GetRoom(ctx, roomID)
	if err != nil {
		return ActResult{}, err
	}
	player, ok := room.Players[playerID]
	if !ok {
		return ActResult{}, fmt.Errorf("player %s in room %s: %w", playerID, roomID, ErrNotFound)
	}

	switch {
	case room.Status == models.StatusPostTimer:
	case room.Status == models.StatusActive && m.opts.BuzzerMode:
	default:
		return ActResult{}, fmt.Errorf("%w: room is %s", ErrNotAcceptingActs, room.Status)
	}
	if !room.Participating(playerID) {
		return ActResult{}, fmt.Errorf("%w: %s joined after round %d started", ErrNotAcceptingActs, playerID, room.Round)
	}

	player.ActCount++
	winning := room.FirstActor == nil
	if winning {
		room.FirstActor = &models.FirstActor{PlayerID: player.ID, Name: player.Name, At: m.now()}
	}

	if winning && room.Status == models.StatusActive {
		// 倒计时内的首个有效操作：立即结束回合
		if _, err := m.finishLocked(ctx, room, models.EventFirstActor); err != nil {
			return ActResult{}, err
		}
		return m.actResult(room, true), nil
	}

	if err := m.repo.SaveRoom(ctx, room); err != nil {
		return ActResult{}, err
	}

	if winning {
		logger.Log.Infof("Room %s round %d: first actor %s", roomID, room.Round, playerID)
		m.publish(models.Event{
			Type:        models.EventFirstActor,
			RoomID:      roomID,
			Round:       room.Round,
			Status:      room.Status,
			PlayerID:    player.ID,
			Name:        player.Name,
			FirstActor:  copyFirstActor(room.FirstActor),
			Leaderboard: models.Leaderboard(room.Players),
		})
		m.armSettle(roomID, room.Round)
	}

	m.publish(models.Event{
		Type:        models.EventActRecorded,
		RoomID:      roomID,
		Round:       room.Round,
		Status:      room.Status,
		PlayerID:    player.ID,
		Name:        player.Name,
		Leaderboard: models.Leaderboard(room.Players),
	})
	return m.actResult(room, winning), nil
}

// OnTimerExpiry 回合倒计时结束，只由定时器调用。过期或已取消的触发是空操作
func (m *Machine) OnTimerExpiry(ctx context.Context, roomID string, round int) error {
	unlock := m.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := m.repo.GetRoom(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if room.Status != models.StatusActive || room.Round != round {
		return nil
	}

	if room.FirstActor != nil {
		_, err := m.finishLocked(ctx, room, "")
		return err
	}

	if err := m.phases.ChangeState(room, models.StatusPostTimer); err != nil {
		return err
	}
	if err := m.repo.SaveRoom(ctx, room); err != nil {
		return err
	}
	m.timers.Cancel(roundTimerKey(roomID))
	m.updateGameStatus(ctx, roomID, round, models.StatusPostTimer)

	logger.Log.Infof("Room %s round %d: timer expired with no act, accepting acts", roomID, round)
	m.publish(models.Event{
		Type:        models.EventPhaseChanged,
		RoomID:      roomID,
		Round:       round,
		Status:      room.Status,
		Leaderboard: models.Leaderboard(room.Players),
	})
	return nil
}

// settle finishes a post-timer round once its settle window has elapsed.
func (m *Machine) settle(ctx context.Context, roomID string, round int) error {
	unlock := m.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := m.repo.GetRoom(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if room.Status != models.StatusPostTimer || room.Round != round || room.FirstActor == nil {
		return nil
	}
	_, err = m.finishLocked(ctx, room, "")
	return err
}

// End 结算回合：按操作次数排序，状态置为 finished
func (m *Machine) End(ctx context.Context, roomID string) (RoundResult, error) {
	roomID = NormalizeRoomID(roomID)

	unlock := m.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := m.repo.GetRoom(ctx, roomID)
	if err != nil {
		return RoundResult{}, err
	}
	if room.Status == models.StatusFinished {
		return roundResult(room), nil
	}
	return m.finishLocked(ctx, room, "")
}

// Reset 清空首位记录与计数，回到 waiting，幂等
func (m *Machine) Reset(ctx context.Context, roomID string) error {
	roomID = NormalizeRoomID(roomID)

	unlock := m.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := m.repo.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == models.StatusWaiting && room.FirstActor == nil && allZero(room) {
		return nil
	}

	if err := m.phases.ChangeState(room, models.StatusWaiting); err != nil {
		return err
	}
	room.RoundStartedAt = time.Time{}
	room.RoundDurationMs = 0

	if err := m.repo.SaveRoom(ctx, room); err != nil {
		return err
	}
	m.cancelTimers(roomID)
	if err := m.repo.DeleteGameState(ctx, roomID); err != nil {
		logger.Log.Warnf("Room %s: deleting game state: %v", roomID, err)
	}

	logger.Log.Infof("Room %s reset", roomID)
	m.publish(models.Event{
		Type:        models.EventRoundReset,
		RoomID:      roomID,
		Round:       room.Round,
		Status:      room.Status,
		Leaderboard: models.Leaderboard(room.Players),
	})
	return nil
}

// ForceEnd 房主强制结束：移除所有非房主玩家并结束回合
func (m *Machine) ForceEnd(ctx context.Context, roomID, callerID string) (models.RoomSnapshot, error) {
	roomID = NormalizeRoomID(roomID)

	unlock := m.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := m.repo.GetRoom(ctx, roomID)
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	if room.HostID != callerID {
		return models.RoomSnapshot{}, ErrNotHost
	}

	wasPlaying := room.Status == models.StatusActive || room.Status == models.StatusPostTimer
	standings := models.Leaderboard(room.Players)

	var removed []string
	for id := range room.Players {
		if id != room.HostID {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		delete(room.Players, id)
		room.DropParticipant(id)
	}

	if err := m.phases.ChangeState(room, models.StatusFinished); err != nil {
		return models.RoomSnapshot{}, err
	}
	if err := m.repo.SaveRoom(ctx, room); err != nil {
		return models.RoomSnapshot{}, err
	}
	m.cancelTimers(roomID)
	if err := m.repo.DeleteGameState(ctx, roomID); err != nil {
		logger.Log.Warnf("Room %s: deleting game state: %v", roomID, err)
	}

	for _, id := range removed {
		m.unindexPlayer(ctx, id, roomID)
		m.publish(models.Event{
			Type:     models.EventPlayerLeft,
			RoomID:   roomID,
			Status:   room.Status,
			PlayerID: id,
			HostID:   room.HostID,
		})
	}

	ev := models.Event{
		Type:        models.EventRoomForceEnded,
		RoomID:      roomID,
		Round:       room.Round,
		Status:      room.Status,
		HostID:      room.HostID,
		FirstActor:  copyFirstActor(room.FirstActor),
		Leaderboard: standings,
	}
	if wasPlaying {
		ev.StartedAt = room.RoundStartedAt
		ev.DurationMs = room.RoundDurationMs
	}

	logger.Log.Infof("Room %s force-ended by %s, removed %d players", roomID, callerID, len(removed))
	m.publish(ev)
	return models.Snapshot(room), nil
}

// SetAcceptingJoins 房主开关新玩家加入
func (m *Machine) SetAcceptingJoins(ctx context.Context, roomID, callerID string, accepting bool) error {
	roomID = NormalizeRoomID(roomID)

	unlock := m.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := m.repo.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostID != callerID {
		return ErrNotHost
	}
	if room.AcceptingJoins == accepting {
		return nil
	}

	room.AcceptingJoins = accepting
	if err := m.repo.SaveRoom(ctx, room); err != nil {
		return err
	}

	m.publish(models.Event{
		Type:           models.EventJoinsToggled,
		RoomID:         roomID,
		Status:         room.Status,
		HostID:         room.HostID,
		AcceptingJoins: &accepting,
	})
	return nil
}

// Get returns a snapshot of one room.
func (m *Machine) Get(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	room, err := m.repo.GetRoom(ctx, NormalizeRoomID(roomID))
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	return models.Snapshot(room), nil
}

// List returns snapshots of every live room, skipping rooms that expire
// between listing and reading.
func (m *Machine) List(ctx context.Context) ([]models.RoomSnapshot, error) {
	ids, err := m.repo.ListRoomIDs(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.RoomSnapshot, 0, len(ids))
	for _, id := range ids {
		room, err := m.repo.GetRoom(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, models.Snapshot(room))
	}
	return out, nil
}

// finishLocked moves room to finished, persists it and announces the result.
// firstActorEvent, when set, is published before round-finished.
func (m *Machine) finishLocked(ctx context.Context, room *models.Room, firstActorEvent models.EventType) (RoundResult, error) {
	if err := m.phases.ChangeState(room, models.StatusFinished); err != nil {
		return RoundResult{}, err
	}
	if err := m.repo.SaveRoom(ctx, room); err != nil {
		return RoundResult{}, err
	}
	m.cancelTimers(room.ID)
	if err := m.repo.DeleteGameState(ctx, room.ID); err != nil {
		logger.Log.Warnf("Room %s: deleting game state: %v", room.ID, err)
	}

	result := roundResult(room)

	if firstActorEvent != "" && room.FirstActor != nil {
		m.publish(models.Event{
			Type:        firstActorEvent,
			RoomID:      room.ID,
			Round:       room.Round,
			Status:      room.Status,
			PlayerID:    room.FirstActor.PlayerID,
			Name:        room.FirstActor.Name,
			FirstActor:  copyFirstActor(room.FirstActor),
			Leaderboard: result.Leaderboard,
		})
	}

	winner := "nobody"
	if room.FirstActor != nil {
		winner = room.FirstActor.PlayerID
	}
	logger.Log.Infof("Room %s round %d finished, winner %s", room.ID, room.Round, winner)

	m.publish(models.Event{
		Type:        models.EventRoundFinished,
		RoomID:      room.ID,
		Round:       room.Round,
		Status:      room.Status,
		StartedAt:   room.RoundStartedAt,
		DurationMs:  room.RoundDurationMs,
		FirstActor:  copyFirstActor(room.FirstActor),
		Leaderboard: result.Leaderboard,
	})
	return result, nil
}

func (m *Machine) armSettle(roomID string, round int) {
	if m.opts.SettleWindow < 0 {
		return
	}
	m.timers.Schedule(settleTimerKey(roomID), m.opts.SettleWindow, func() {
		m.fireTimer(roomID, round, m.settle)
	})
}

func (m *Machine) fireTimer(roomID string, round int, fn func(context.Context, string, int) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timerCallbackTimeout)
	defer cancel()
	if err := fn(ctx, roomID, round); err != nil {
		logger.Log.Errorf("Room %s round %d: timer callback failed: %v", roomID, round, err)
	}
}

func (m *Machine) cancelTimers(roomID string) {
	m.timers.Cancel(roundTimerKey(roomID))
	m.timers.Cancel(settleTimerKey(roomID))
}

// updateGameStatus keeps the projection's status in step; failures only log
// because the room blob is authoritative.
func (m *Machine) updateGameStatus(ctx context.Context, roomID string, round int, status models.RoomStatus) {
	gs, err := m.repo.GetGameState(ctx, roomID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Log.Warnf("Room %s: loading game state: %v", roomID, err)
		}
		return
	}
	if gs.Round != round {
		return
	}
	gs.Status = status
	if err := m.repo.SaveGameState(ctx, gs); err != nil {
		logger.Log.Warnf("Room %s: saving game state: %v", roomID, err)
	}
}

func (m *Machine) indexPlayer(ctx context.Context, playerID, roomID string) error {
	unlock := m.locks.Lock(playerIndexKey(playerID))
	defer unlock()
	return m.repo.IndexPlayer(ctx, playerID, roomID)
}

// unindexPlayer is best effort: a stale index entry only makes a later
// Disconnect issue a no-op Leave.
func (m *Machine) unindexPlayer(ctx context.Context, playerID, roomID string) {
	unlock := m.locks.Lock(playerIndexKey(playerID))
	defer unlock()
	if err := m.repo.UnindexPlayer(ctx, playerID, roomID); err != nil {
		logger.Log.Warnf("Player %s: removing room %s from index: %v", playerID, roomID, err)
	}
}

func (m *Machine) publish(ev models.Event) {
	if ev.At.IsZero() {
		ev.At = m.now()
	}

	m.sinksMu.RLock()
	sinks := m.sinks
	m.sinksMu.RUnlock()

	for _, sink := range sinks {
		sink.Publish(ev)
	}
}

func (m *Machine) now() time.Time {
	return m.opts.Clock()
}

func (m *Machine) actResult(room *models.Room, winning bool) ActResult {
	return ActResult{
		IsWinningAct: winning,
		FirstActor:   copyFirstActor(room.FirstActor),
		Leaderboard:  models.Leaderboard(room.Players),
		Status:       room.Status,
	}
}

func roundResult(room *models.Room) RoundResult {
	return RoundResult{
		RoomID:      room.ID,
		Round:       room.Round,
		Winner:      copyFirstActor(room.FirstActor),
		Leaderboard: models.Leaderboard(room.Players),
	}
}

// electHost picks the lowest-sorted remaining player id.
func electHost(room *models.Room) string {
	ids := make([]string, 0, len(room.Players))
	for id := range room.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func rosterSnapshot(room *models.Room) []models.Player {
	players := make([]models.Player, 0, len(room.Players))
	for _, p := range room.Players {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players
}

func copyFirstActor(fa *models.FirstActor) *models.FirstActor {
	if fa == nil {
		return nil
	}
	c := *fa
	return &c
}

func allZero(room *models.Room) bool {
	for _, p := range room.Players {
		if p.ActCount != 0 {
			return false
		}
	}
	return true
}
