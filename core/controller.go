package core

import (
	"sync/atomic"
)

// Controller carries the two process-wide gates shared by bank and
// reserve: a pause flag and a single mutual-exclusion token. The token
// makes the whole protocol single-entrant: a nested acquire from a
// re-entering collaborator fails immediately instead of blocking.
type Controller struct {
	ownerKey string

	paused atomic.Bool
	locked atomic.Bool
}

func NewController(ownerKey string) *Controller {
	return &Controller{ownerKey: ownerKey}
}

func (c *Controller) IsPaused() bool {
	return c.paused.Load()
}

// AssertNotPaused gates mutating entry points. Interest settlement and
// repayment bypass this so obligations can still be cleared while
// paused.
func (c *Controller) AssertNotPaused() error {
	if c.paused.Load() {
		return ProtocolPaused
	}
	return nil
}

func (c *Controller) Pause(callerKey string) error {
	if callerKey != c.ownerKey {
		return CallerNotOwner
	}
	c.paused.Store(true)
	return nil
}

func (c *Controller) Unpause(callerKey string) error {
	if callerKey != c.ownerKey {
		return CallerNotOwner
	}
	c.paused.Store(false)
	return nil
}

// AcquireLock takes the shared token, failing on reentry.
func (c *Controller) AcquireLock() error {
	if !c.locked.CompareAndSwap(false, true) {
		return LockAlreadyAcquired
	}
	return nil
}

// ReleaseLock returns the token; releasing an unheld token is a caller
// bug and reported as such.
func (c *Controller) ReleaseLock() error {
	if !c.locked.CompareAndSwap(true, false) {
		return LockNotAcquired
	}
	return nil
}

// WithLock runs fn holding the token, releasing it on every exit path.
func (c *Controller) WithLock(fn func() error) error {
	if err := c.AcquireLock(); err != nil {
		return err
	}
	defer c.locked.Store(false)

	return fn()
}
