package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wfunc/tapserver/models"
)

// 状态机接口
type StateMachine interface {
	ChangeState(room *models.Room, to models.RoomStatus) error
	CanTransition(room *models.Room, to models.RoomStatus) error
	AddTransition(from, to models.RoomStatus, condition func(room *models.Room) bool) error
	OnEnter(status models.RoomStatus, hook func(room *models.Room))
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// 基础状态机实现：房间状态保存在 Room 本身，状态机只负责校验与进入钩子
type BaseStateMachine struct {
	transitions map[models.RoomStatus]map[models.RoomStatus]func(*models.Room) bool // from -> to -> condition
	enterHooks  map[models.RoomStatus][]func(*models.Room)
	mutex       sync.RWMutex
}

func NewBaseStateMachine() *BaseStateMachine {
	return &BaseStateMachine{
		transitions: make(map[models.RoomStatus]map[models.RoomStatus]func(*models.Room) bool),
		enterHooks:  make(map[models.RoomStatus][]func(*models.Room)),
	}
}

// CanTransition checks the transition table and its guard without mutating room.
func (sm *BaseStateMachine) CanTransition(room *models.Room, to models.RoomStatus) error {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	from := room.Status
	conditions, exists := sm.transitions[from]
	if !exists {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, from, to)
	}
	condition, exists := conditions[to]
	if !exists {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, from, to)
	}
	if condition != nil && !condition(room) {
		return fmt.Errorf("%w: %s -> %s (guard)", ErrTransitionNotAllowed, from, to)
	}
	return nil
}

// ChangeState moves room to the target status and runs its enter hooks.
func (sm *BaseStateMachine) ChangeState(room *models.Room, to models.RoomStatus) error {
	if err := sm.CanTransition(room, to); err != nil {
		return err
	}

	sm.mutex.RLock()
	hooks := sm.enterHooks[to]
	sm.mutex.RUnlock()

	room.Status = to
	for _, hook := range hooks {
		hook(room)
	}
	return nil
}

func (sm *BaseStateMachine) AddTransition(from, to models.RoomStatus, condition func(room *models.Room) bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.transitions[from]; !exists {
		sm.transitions[from] = make(map[models.RoomStatus]func(*models.Room) bool)
	}

	sm.transitions[from][to] = condition
	return nil
}

func (sm *BaseStateMachine) OnEnter(status models.RoomStatus, hook func(room *models.Room)) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.enterHooks[status] = append(sm.enterHooks[status], hook)
}
