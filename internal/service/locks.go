package service

import "sync"

// userLocks hands out one mutex per user id. Entries are reference-counted
// and removed when the last holder releases, so the map stays proportional to
// concurrent users rather than all users ever seen.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*userLock)}
}

// acquire blocks until the caller holds the user's exclusive lock and returns
// the release function. Locks are per-user, never global, so different users
// never contend.
func (ul *userLocks) acquire(userID int64) (release func()) {
	ul.mu.Lock()
	l, ok := ul.locks[userID]
	if !ok {
		l = &userLock{}
		ul.locks[userID] = l
	}
	l.refs++
	ul.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		ul.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(ul.locks, userID)
		}
		ul.mu.Unlock()
	}
}
