package state

import "github.com/wfunc/tapserver/models"

// NewRoundMachine builds the room phase table:
//
//	waiting|finished -> active -> post-timer -> finished -> waiting
//
// active may also go straight to finished, and any phase may be reset to
// waiting or ended as finished.
func NewRoundMachine() *BaseStateMachine {
	sm := NewBaseStateMachine()

	noFirstActor := func(r *models.Room) bool { return r.FirstActor == nil }
	hasPlayers := func(r *models.Room) bool { return len(r.Players) > 0 }

	sm.AddTransition(models.StatusWaiting, models.StatusActive, hasPlayers)
	sm.AddTransition(models.StatusFinished, models.StatusActive, hasPlayers)
	sm.AddTransition(models.StatusActive, models.StatusPostTimer, noFirstActor)

	for _, from := range []models.RoomStatus{
		models.StatusWaiting,
		models.StatusActive,
		models.StatusPostTimer,
		models.StatusFinished,
	} {
		sm.AddTransition(from, models.StatusFinished, nil)
		sm.AddTransition(from, models.StatusWaiting, nil)
	}

	// 新回合与重置都会清空首位记录和计数
	sm.OnEnter(models.StatusActive, func(r *models.Room) { r.ResetRound() })
	sm.OnEnter(models.StatusWaiting, func(r *models.Room) { r.ResetRound() })

	return sm
}
