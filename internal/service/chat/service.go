package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/zhouzirui/z-chat/backend/internal/errs"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// Store owns every session log. Handlers hold ids only.
type Store interface {
	CreateSession(ctx context.Context) *chat.Session
	GetOrCreate(ctx context.Context, sessionID string) *chat.Session
	Delete(ctx context.Context, sessionID string) bool
	History(ctx context.Context, sessionID string, withTimestamps bool) ([]chat.Message, error)
	Acquire(ctx context.Context, sessionID string) (*Lease, error)
}

var _ Store = (*Service)(nil)

type entry struct {
	session *chat.Session
	sem     *semaphore.Weighted
}

// Service is the in-memory Store. The id map is guarded by mu; each session
// additionally carries a weight-one semaphore that serializes requests.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	logger   *zap.Logger
}

// NewService bootstraps an empty in-memory store.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessions: make(map[string]*entry),
		logger:   logger.Named("sessions"),
	}
}

// CreateSession provisions a session under a fresh random id.
func (s *Service) CreateSession(ctx context.Context) *chat.Session {
	return s.GetOrCreate(ctx, uuid.NewString())
}

// GetOrCreate returns the session for sessionID, creating an empty one when
// the id is unknown.
func (s *Service) GetOrCreate(_ context.Context, sessionID string) *chat.Session {
	return s.entry(sessionID).session
}

func (s *Service) entry(sessionID string) *entry {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[sessionID]; ok {
		return e
	}
	e = &entry{session: chat.NewSession(sessionID), sem: semaphore.NewWeighted(1)}
	s.sessions[sessionID] = e
	s.logger.Debug("session created", zap.String("session_id", sessionID))
	return e
}

// Delete forgets sessionID and reports whether it existed. A later reference
// to the same id starts from an empty log.
func (s *Service) Delete(_ context.Context, sessionID string) bool {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if ok {
		s.logger.Debug("session deleted", zap.String("session_id", sessionID))
	}
	return ok
}

// History returns the display projection of the session log.
func (s *Service) History(_ context.Context, sessionID string, withTimestamps bool) ([]chat.Message, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("session not found")
	}
	return e.session.Log.Project(withTimestamps), nil
}

// Len returns the number of live sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Lease is exclusive access to one session for the duration of a request.
type Lease struct {
	Session *chat.Session

	once sync.Once
	sem  *semaphore.Weighted
}

// Release gives the session back. Calling it more than once is harmless.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() { l.sem.Release(1) })
}

// Acquire waits for exclusive access to sessionID, creating the session when
// needed. It fails only when ctx ends first. If the session is deleted while
// the caller waits, the lease is taken on the replacement session instead.
func (s *Service) Acquire(ctx context.Context, sessionID string) (*Lease, error) {
	for {
		e := s.entry(sessionID)
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}

		s.mu.RLock()
		current := s.sessions[sessionID]
		s.mu.RUnlock()
		if current == e {
			return &Lease{Session: e.session, sem: e.sem}, nil
		}
		e.sem.Release(1)
	}
}
