package coop

import "sync"

// StopGuard defers environment shutdown until it has finished whatever
// cleanup it needs (spec.md §4.5 "Stop-guards"). Stop is called once,
// when the environment's shutdown sequence begins; the guard must
// eventually call StopGuardRepo.RemoveGuard on itself to let shutdown
// proceed.
type StopGuard interface {
	Stop()
}

// stopStatus tracks where in the shutdown sequence the repo is,
// grounded on original_source/dev/so_5/impl/stop_guard_repo.hpp's
// status_t.
type stopStatus int

const (
	stopNotStarted stopStatus = iota
	stopStarted
	stopCompleted
)

// SetupResult is returned by StopGuardRepo.SetupGuard.
type SetupResult int

const (
	// SetupOK means the guard was registered.
	SetupOK SetupResult = iota
	// SetupStopAlreadyInProgress means stop has already begun; the
	// guard was not registered and cannot defer this shutdown.
	SetupStopAlreadyInProgress
)

// Action is returned by RemoveGuard and InitiateStop, telling the
// caller what to do next.
type Action int

const (
	// ActionDoNothing: no stop is in progress.
	ActionDoNothing Action = iota
	// ActionWaitForCompletion: stop has started but other guards have
	// not yet released it.
	ActionWaitForCompletion
	// ActionDoActualStop: every guard has released; the caller must now
	// perform the actual environment teardown.
	ActionDoActualStop
)

// StopGuardRepo is the repository of stop-guards an environment
// consults before tearing itself down (spec.md §4.5): shutdown is
// deferred until every registered guard has been removed.
type StopGuardRepo struct {
	mu     sync.Mutex
	status stopStatus
	guards []StopGuard
}

// NewStopGuardRepo returns an empty repo, ready to accept guards.
func NewStopGuardRepo() *StopGuardRepo {
	return &StopGuardRepo{}
}

// SetupGuard registers g, unless a stop is already in progress.
// Uniqueness is not enforced: the same guard may be registered more than
// once, matching original_source's stop_guard_repository_t.
func (r *StopGuardRepo) SetupGuard(g StopGuard) SetupResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != stopNotStarted {
		return SetupStopAlreadyInProgress
	}
	r.guards = append(r.guards, g)
	return SetupOK
}

// RemoveGuard removes the first registered instance of g. If a stop is
// in progress, it reports whether that was the last guard holding
// things up.
func (r *StopGuardRepo) RemoveGuard(g StopGuard) Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, guard := range r.guards {
		if guard == g {
			r.guards = append(r.guards[:i], r.guards[i+1:]...)
			break
		}
	}

	if r.status != stopStarted {
		return ActionDoNothing
	}
	if len(r.guards) == 0 {
		return ActionDoActualStop
	}
	return ActionWaitForCompletion
}

// InitiateStop begins the stop sequence, calling Stop on every
// currently registered guard. It is safe to call more than once; later
// calls just report the current state. It returns ActionDoActualStop
// immediately if there were no guards registered (or all had already
// been removed) by the time every Stop callback returned.
func (r *StopGuardRepo) InitiateStop() Action {
	r.mu.Lock()
	if r.status != stopNotStarted {
		status, remaining := r.status, len(r.guards)
		r.mu.Unlock()
		if status == stopCompleted || remaining == 0 {
			return ActionDoActualStop
		}
		return ActionWaitForCompletion
	}
	snapshot := append([]StopGuard(nil), r.guards...)
	r.status = stopStarted
	r.mu.Unlock()

	for _, g := range snapshot {
		g.Stop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.guards) == 0 {
		r.status = stopCompleted
		return ActionDoActualStop
	}
	return ActionWaitForCompletion
}
