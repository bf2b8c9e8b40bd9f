// session/session.go
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/wfunc/tapserver/network"
)

// SendQueueSize bounds the frames waiting for a slow client.
const SendQueueSize = 64

var (
	ErrSendQueueFull = errors.New("session send queue full")
	ErrSessionClosed = errors.New("session closed")
)

type outbound struct {
	msgID uint16
	data  []byte
}

// Session 一个websocket连接；ID 同时作为玩家ID
// 发送走队列，由单独的写协程写出，调用方不会被慢连接阻塞
type Session struct {
	ID         string
	Conn       network.Connection
	CreatedAt  time.Time
	LastActive time.Time
	rooms      map[string]struct{}
	limiter    *rate.Limiter
	mutex      sync.RWMutex
	out        chan outbound
	done       chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

func NewSession(id string, conn network.Connection) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	s := &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		LastActive: now,
		rooms:      make(map[string]struct{}),
		out:        make(chan outbound, SendQueueSize),
		done:       make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// SetActLimit bounds how often this session may act; r <= 0 disables limiting.
func (s *Session) SetActLimit(r float64, burst int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if r <= 0 {
		s.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(r), burst)
}

// AllowAct reports whether an act may go through right now.
func (s *Session) AllowAct() bool {
	s.mutex.RLock()
	limiter := s.limiter
	s.mutex.RUnlock()
	return limiter == nil || limiter.Allow()
}

func (s *Session) JoinRoom(roomID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.rooms[roomID] = struct{}{}
}

func (s *Session) LeaveRoom(roomID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.rooms, roomID)
}

func (s *Session) InRoom(roomID string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Rooms returns the room ids this session belongs to, sorted.
func (s *Session) Rooms() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send queues a frame without blocking. A client too slow to drain its
// queue is disconnected.
func (s *Session) Send(msgID uint16, data []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.out <- outbound{msgID: msgID, data: data}:
		return nil
	default:
		s.Close()
		return ErrSendQueueFull
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			if err := s.Conn.Send(msg.msgID, msg.data); err != nil {
				s.Close()
				return
			}
		}
	}
}

// Touch records client activity.
func (s *Session) Touch() {
	s.mutex.Lock()
	s.LastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) GetID() string {
	return s.ID
}

// Close stops the writer and closes the connection; frames still queued are dropped.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.Conn.Close()
	})
	return s.closeErr
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

// InRoom returns the live sessions that belong to roomID.
func (m *Manager) InRoom(roomID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.InRoom(roomID) {
			result = append(result, session)
		}
	}
	return result
}

// ForgetRoom drops roomID from every session, used once a room is deleted.
func (m *Manager) ForgetRoom(roomID string) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, session := range m.sessions {
		session.LeaveRoom(roomID)
	}
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every connection; the read loops then clean up their sessions.
func (m *Manager) CloseAll() {
	m.mutex.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mutex.RUnlock()

	var wg conc.WaitGroup
	for _, session := range sessions {
		wg.Go(func() { session.Close() })
	}
	wg.Wait()
}
