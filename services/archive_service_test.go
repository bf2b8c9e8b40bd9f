package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tapserver/models"
)

// MockArchive keeps saved records in memory.
type MockArchive struct {
	mu      sync.Mutex
	records []models.RoundRecord
	closed  bool
}

func (m *MockArchive) SaveRound(ctx context.Context, record *models.RoundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *record)
	return nil
}

func (m *MockArchive) RecentRounds(ctx context.Context, roomID string, limit int) ([]models.RoundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RoundRecord
	for _, r := range m.records {
		if r.RoomID == roomID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockArchive) TopWinners(ctx context.Context, limit int) ([]models.PlayerWins, error) {
	return nil, nil
}

func (m *MockArchive) Close() error {
	m.closed = true
	return nil
}

func TestArchiveService_RecordsFinishedRounds(t *testing.T) {
	archive := &MockArchive{}
	svc := NewArchiveService(archive)

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	board := []models.LeaderboardEntry{
		{Rank: 1, PlayerID: "a", Name: "Alice", ActCount: 3},
		{Rank: 2, PlayerID: "b", Name: "Bob", ActCount: 1},
	}

	svc.Publish(models.Event{Type: models.EventActRecorded, RoomID: "R1"})
	svc.Publish(models.Event{
		Type:        models.EventRoundFinished,
		RoomID:      "R1",
		Round:       2,
		StartedAt:   started,
		DurationMs:  5000,
		FirstActor:  &models.FirstActor{PlayerID: "a", Name: "Alice"},
		Leaderboard: board,
		At:          started.Add(6 * time.Second),
	})
	svc.Publish(models.Event{Type: models.EventRoomForceEnded, RoomID: "R1"})
	svc.Publish(models.Event{Type: models.EventRoomForceEnded, RoomID: "R2", StartedAt: started, Round: 1})

	require.NoError(t, svc.Close())
	assert.True(t, archive.closed)

	require.Len(t, archive.records, 2)
	rec := archive.records[0]
	assert.Len(t, rec.ID, 26)
	assert.Equal(t, "R1", rec.RoomID)
	assert.Equal(t, 2, rec.Round)
	assert.Equal(t, "a", rec.WinnerID)
	assert.Equal(t, 2, rec.PlayerCount)
	assert.False(t, rec.ForceEnded)
	assert.Equal(t, board, rec.Leaderboard)

	assert.True(t, archive.records[1].ForceEnded)
	assert.Empty(t, archive.records[1].WinnerID)
	assert.Less(t, rec.ID, archive.records[1].ID)

	svc.Publish(models.Event{Type: models.EventRoundFinished, RoomID: "R1"})
}

func TestArchiveService_Disabled(t *testing.T) {
	svc := NewArchiveService(nil)
	svc.Publish(models.Event{Type: models.EventRoundFinished, RoomID: "R1"})

	_, err := svc.RecentRounds(context.Background(), "R1", 5)
	assert.ErrorIs(t, err, ErrArchiveDisabled)
	assert.NoError(t, svc.Close())
}
