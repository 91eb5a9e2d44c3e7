package service

import "sync"

// AccountLocks serializes work on a single account. Sync and manual holding
// edits of the same account never overlap; different accounts proceed in
// parallel. Entries are dropped once no goroutine holds or waits on them.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

// NewAccountLocks creates an empty lock table
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*accountLock)}
}

// Lock blocks until the account's lock is held and returns its release func
func (l *AccountLocks) Lock(accountID string) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.locks[accountID]
	if !ok {
		entry = &accountLock{}
		l.locks[accountID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, accountID)
			}
			l.mu.Unlock()
		})
	}
}

func (l *AccountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
