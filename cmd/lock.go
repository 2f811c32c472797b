package cmd

import (
	"fmt"
	"sync"

	"github.com/gofrs/flock"

	"github.com/riptide-dl/riptide/internal/config"
)

var (
	instanceLock *flock.Flock
	lockMu       sync.Mutex
)

// AcquireLock takes the single-instance lock. It returns false if another
// process holds it.
func AcquireLock() (bool, error) {
	lockMu.Lock()
	defer lockMu.Unlock()
	if instanceLock != nil {
		return true, nil
	}
	l := flock.New(config.GetLockPath())
	ok, err := l.TryLock()
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", l.Path(), err)
	}
	if !ok {
		return false, nil
	}
	instanceLock = l
	return true, nil
}

// ReleaseLock drops the lock taken by AcquireLock.
func ReleaseLock() error {
	lockMu.Lock()
	defer lockMu.Unlock()
	if instanceLock == nil {
		return nil
	}
	err := instanceLock.Unlock()
	instanceLock = nil
	return err
}

// queueRunning reports whether another process holds the lock.
func queueRunning() bool {
	lockMu.Lock()
	held := instanceLock != nil
	lockMu.Unlock()
	if held {
		return true
	}
	l := flock.New(config.GetLockPath())
	ok, err := l.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = l.Unlock()
		return false
	}
	return true
}
