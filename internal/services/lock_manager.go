// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager hands out one mutex per session. The game service holds
// a session's lock for the whole message exchange: the exchange reads
// then rewrites the plot point and player state, so two concurrent
// exchanges on one session would lose updates. Different sessions run
// in parallel.
type LockManager struct {
	sessionLocks map[string]*lockInfo
	globalLock   sync.Mutex
}

type lockInfo struct {
	mutex    *sync.Mutex
	lastUsed time.Time
}

// NewLockManager creates a lock manager and starts its cleanup loop.
func NewLockManager() *LockManager {
	lm := &LockManager{
		sessionLocks: make(map[string]*lockInfo),
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			lm.cleanupUnusedLocks()
		}
	}()

	return lm
}

// getSessionLock returns the mutex for a session, creating it on
// first use.
func (lm *LockManager) getSessionLock(sessionID string) *sync.Mutex {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if info, exists := lm.sessionLocks[sessionID]; exists {
		info.lastUsed = time.Now()
		return info.mutex
	}

	mutex := &sync.Mutex{}
	lm.sessionLocks[sessionID] = &lockInfo{
		mutex:    mutex,
		lastUsed: time.Now(),
	}
	return mutex
}

// ExecuteWithSessionLock runs fn while holding the session's mutex.
func (lm *LockManager) ExecuteWithSessionLock(sessionID string, fn func() error) error {
	mutex := lm.getSessionLock(sessionID)
	mutex.Lock()
	defer mutex.Unlock()
	return fn()
}

func (lm *LockManager) cleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	const maxLocks = 200
	const lockTimeout = 30 * time.Minute

	if len(lm.sessionLocks) <= maxLocks {
		return
	}

	now := time.Now()
	for sessionID, info := range lm.sessionLocks {
		// A held lock is in use; TryLock keeps it alive.
		if now.Sub(info.lastUsed) > lockTimeout && info.mutex.TryLock() {
			info.mutex.Unlock()
			delete(lm.sessionLocks, sessionID)
		}
	}
}
