// services/archive_service.go
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wfunc/tapserver/logger"
	"github.com/wfunc/tapserver/models"
	"github.com/wfunc/tapserver/persistence"
)

const (
	archiveQueueSize = 256
	saveTimeout      = 5 * time.Second
)

// ErrArchiveDisabled is returned by the query methods when no archive backend is configured.
var ErrArchiveDisabled = errors.New("round archive disabled")

// ArchiveService 把结束的回合异步写入归档库
//
// Publish never blocks the room that produced the event: records are queued
// and a single worker writes them. When the queue is full the record is
// dropped and logged.
type ArchiveService struct {
	archive persistence.Archive
	queue   chan *models.RoundRecord
	done    chan struct{}
	entropy *ulid.MonotonicEntropy
	mu      sync.Mutex
	qmu     sync.RWMutex
	closed  bool
	once    sync.Once
}

// NewArchiveService starts the writer goroutine. A nil archive yields a
// service that accepts events and drops them.
func NewArchiveService(archive persistence.Archive) *ArchiveService {
	s := &ArchiveService{
		archive: archive,
		queue:   make(chan *models.RoundRecord, archiveQueueSize),
		done:    make(chan struct{}),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	go s.run()
	return s
}

// Publish implements room.EventSink.
func (s *ArchiveService) Publish(ev models.Event) {
	if s.archive == nil {
		return
	}
	var forced bool
	switch ev.Type {
	case models.EventRoundFinished:
	case models.EventRoomForceEnded:
		// 只有进行中的回合被强制结束才归档
		if ev.StartedAt.IsZero() {
			return
		}
		forced = true
	default:
		return
	}

	record := s.recordFor(ev, forced)

	s.qmu.RLock()
	defer s.qmu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- record:
	default:
		logger.Log.Warnf("Archive queue full, dropping round %d of room %s", ev.Round, ev.RoomID)
	}
}

func (s *ArchiveService) recordFor(ev models.Event, forced bool) *models.RoundRecord {
	finished := ev.At
	if finished.IsZero() {
		finished = time.Now()
	}

	record := &models.RoundRecord{
		ID:          s.newID(finished),
		RoomID:      ev.RoomID,
		Round:       ev.Round,
		StartedAt:   ev.StartedAt,
		FinishedAt:  finished,
		DurationMs:  ev.DurationMs,
		PlayerCount: len(ev.Leaderboard),
		ForceEnded:  forced,
		Leaderboard: ev.Leaderboard,
	}
	if ev.FirstActor != nil {
		record.WinnerID = ev.FirstActor.PlayerID
		record.WinnerName = ev.FirstActor.Name
	}
	return record
}

func (s *ArchiveService) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *ArchiveService) run() {
	defer close(s.done)
	for record := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := s.archive.SaveRound(ctx, record); err != nil {
			logger.Log.Errorf("Archiving round %d of room %s: %v", record.Round, record.RoomID, err)
		}
		cancel()
	}
}

// RecentRounds 查询房间最近的回合
func (s *ArchiveService) RecentRounds(ctx context.Context, roomID string, limit int) ([]models.RoundRecord, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archive.RecentRounds(ctx, roomID, limit)
}

// TopWinners 胜场排行
func (s *ArchiveService) TopWinners(ctx context.Context, limit int) ([]models.PlayerWins, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archive.TopWinners(ctx, limit)
}

// Close drains the queue, then closes the archive.
func (s *ArchiveService) Close() error {
	var err error
	s.once.Do(func() {
		s.qmu.Lock()
		s.closed = true
		close(s.queue)
		s.qmu.Unlock()

		<-s.done
		if s.archive != nil {
			err = s.archive.Close()
		}
	})
	return err
}
