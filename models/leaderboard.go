package models

import "sort"

// LeaderboardEntry is one ranked line of a round's standings.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	ActCount int    `json:"act_count"`
}

// Leaderboard ranks players by act count, highest first. Equal counts are
// ordered by player id so the result is a total order.
func Leaderboard(players map[string]*Player) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, LeaderboardEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			ActCount: p.ActCount,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ActCount != entries[j].ActCount {
			return entries[i].ActCount > entries[j].ActCount
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
