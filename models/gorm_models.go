// models/gorm_models.go
package models

import (
	"time"
)

// RoundRecord 已结束回合的归档记录
type RoundRecord struct {
	ID          string             `gorm:"primaryKey;size:26" json:"id"`
	RoomID      string             `gorm:"index;size:8;not null" json:"room_id"`
	Round       int                `gorm:"not null" json:"round"`
	WinnerID    string             `json:"winner_id"`
	WinnerName  string             `json:"winner_name"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `gorm:"index" json:"finished_at"`
	DurationMs  int64              `json:"duration_ms"`
	PlayerCount int                `json:"player_count"`
	ForceEnded  bool               `gorm:"default:false" json:"force_ended"`
	Leaderboard []LeaderboardEntry `gorm:"serializer:json;type:jsonb" json:"leaderboard"`
	CreatedAt   time.Time          `json:"created_at"`
}

// TableName keeps the archive table name stable across model renames.
func (RoundRecord) TableName() string {
	return "round_records"
}

// PlayerWins 按显示名统计的胜场
type PlayerWins struct {
	WinnerName string `json:"winner_name"`
	Wins       int    `json:"wins"`
}
