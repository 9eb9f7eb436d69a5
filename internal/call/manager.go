package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// NewCallID generates a fresh call identifier.
func NewCallID() string {
	return uuid.NewString()
}

// Manager tracks the active sessions of one process so calls can be
// terminated individually or all at once during shutdown. All methods are
// safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	log      *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

// Register tracks a session. Returns [ErrAlreadyActive] if its call id is
// already registered.
func (m *Manager) Register(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, s.ID())
	}
	m.sessions[s.ID()] = s
	m.log.Info("call registered", slog.String("call_id", s.ID()), slog.Int("active", len(m.sessions)))
	return nil
}

// Remove drops a session from tracking. Unknown ids are ignored.
func (m *Manager) Remove(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[callID]; !ok {
		return
	}
	delete(m.sessions, callID)
	m.log.Info("call removed", slog.String("call_id", callID), slog.Int("active", len(m.sessions)))
}

// Get returns the tracked session for callID.
func (m *Manager) Get(callID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// Active returns the number of tracked sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Terminate asks one session to stop. Returns [ErrNotFound] for unknown ids.
// The session leaves the manager when its Run loop finishes teardown.
func (m *Manager) Terminate(callID string) error {
	s, ok := m.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	s.Terminate()
	return nil
}

// TerminateAll asks every tracked session to stop. Used during shutdown.
func (m *Manager) TerminateAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Terminate()
	}
}

// Run registers s, drives it to completion, and removes it afterwards. It is
// the usual way to launch a call:
//
//	go func() {
//		if err := manager.Run(ctx, session); err != nil {
//			slog.Error("call failed", "err", err)
//		}
//	}()
func (m *Manager) Run(ctx context.Context, s *Session) error {
	if err := m.Register(s); err != nil {
		return err
	}
	defer m.Remove(s.ID())
	return s.Run(ctx)
}
