package events

import (
	"context"
	"sync"
)

// UnitOfWork scopes deferred side effects to one request's transaction.
// Business logic registers callbacks with OnCommit; they fire exactly when
// Commit is called, and never if the work ends in Rollback. This replaces
// framework-level post-commit listeners with an explicit object the request
// owns for its duration.
type UnitOfWork struct {
	mu        sync.Mutex
	committed bool
	done      bool
	hooks     []func(context.Context)
}

// NewUnitOfWork returns a fresh, uncommitted unit of work.
func NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{}
}

// OnCommit registers fn to run after a successful commit. If the unit has
// already committed, fn runs immediately (late registrants don't get lost).
func (u *UnitOfWork) OnCommit(fn func(context.Context)) {
	u.mu.Lock()
	if u.committed {
		u.mu.Unlock()
		fn(context.Background())
		return
	}
	if !u.done {
		u.hooks = append(u.hooks, fn)
	}
	u.mu.Unlock()
}

// Commit marks the unit successful and fires the registered hooks in order.
// Hooks run on the caller's goroutine but must not block on delivery; the
// dispatcher's hooks hand off to an async sender. Repeat calls are no-ops.
func (u *UnitOfWork) Commit(ctx context.Context) {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return
	}
	u.committed = true
	u.done = true
	hooks := u.hooks
	u.hooks = nil
	u.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx)
	}
}

// Rollback discards all registered hooks. The events they would have
// published describe state changes that never happened. Repeat calls and
// rollback-after-commit are no-ops.
func (u *UnitOfWork) Rollback() {
	u.mu.Lock()
	if !u.done {
		u.done = true
		u.hooks = nil
	}
	u.mu.Unlock()
}

type unitOfWorkKey struct{}

// WithUnitOfWork attaches the unit of work to a request context so code deep
// in the call tree can defer publishes to it.
func WithUnitOfWork(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, unitOfWorkKey{}, u)
}

// UnitOfWorkFrom returns the active unit of work, if any.
func UnitOfWorkFrom(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(unitOfWorkKey{}).(*UnitOfWork)
	return u, ok
}
