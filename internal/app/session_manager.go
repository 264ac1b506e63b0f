package app

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrTooManySessions is returned by [SessionManager.Acquire] when the
// session limit is reached.
var ErrTooManySessions = errors.New("app: too many sessions")

// SessionInfo holds metadata about an active gateway session.
type SessionInfo struct {
	// ID is unique for the lifetime of the manager.
	ID string

	// Grammar is the grammar the client asked for, if any.
	Grammar string

	// Remote is the client address.
	Remote string

	// StartedAt is when the session was admitted.
	StartedAt time.Time
}

// SessionManager admits gateway sessions up to a limit and keeps track of
// the active ones. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	limit  int
	seq    uint64
	active map[string]SessionInfo
	now    func() time.Time
}

// NewSessionManager returns a manager admitting at most limit concurrent
// sessions. A limit of zero or less means no limit.
func NewSessionManager(limit int) *SessionManager {
	return &SessionManager{
		limit:  limit,
		active: make(map[string]SessionInfo),
		now:    time.Now,
	}
}

// Acquire admits a new session and returns its info and a release function.
// Release is idempotent. Returns [ErrTooManySessions] when the limit is
// reached.
func (sm *SessionManager) Acquire(remote, grammar string) (SessionInfo, func(), error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.limit > 0 && len(sm.active) >= sm.limit {
		return SessionInfo{}, nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, sm.limit)
	}
	sm.seq++
	info := SessionInfo{
		ID:        fmt.Sprintf("gw-%d", sm.seq),
		Grammar:   grammar,
		Remote:    remote,
		StartedAt: sm.now(),
	}
	sm.active[info.ID] = info
	slog.Debug("session started", "session_id", info.ID, "remote", remote, "grammar", grammar, "active", len(sm.active))

	var once sync.Once
	release := func() {
		once.Do(func() { sm.release(info.ID) })
	}
	return info, release, nil
}

func (sm *SessionManager) release(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	info, ok := sm.active[id]
	if !ok {
		return
	}
	delete(sm.active, id)
	slog.Debug("session stopped",
		"session_id", id,
		"duration", sm.now().Sub(info.StartedAt),
		"active", len(sm.active),
	)
}

// SetLimit changes the session limit. Sessions already admitted are not
// affected.
func (sm *SessionManager) SetLimit(limit int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.limit = limit
}

// Limit returns the current session limit.
func (sm *SessionManager) Limit() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.limit
}

// Active returns the number of active sessions.
func (sm *SessionManager) Active() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.active)
}

// Sessions returns the active sessions, oldest first.
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.active))
	for _, info := range sm.active {
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b SessionInfo) int {
		return cmp.Or(
			a.StartedAt.Compare(b.StartedAt),
			cmp.Compare(len(a.ID), len(b.ID)),
			strings.Compare(a.ID, b.ID),
		)
	})
	return out
}
