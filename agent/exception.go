package agent

import (
	"time"

	"github.com/sony/gobreaker"
)

// ExceptionReaction names an agent's response to a handler that returned
// an error or panicked (spec.md §4.4 `so_exception_reaction`).
type ExceptionReaction int

const (
	// ReactionAbortOnException terminates the process — the substitute
	// for so_5's std::terminate.
	ReactionAbortOnException ExceptionReaction = iota
	// ReactionShutdownEnvironmentOnException initiates environment
	// shutdown.
	ReactionShutdownEnvironmentOnException
	// ReactionDeregisterCoopOnException moves the offending agent to a
	// sink state and deregisters its cooperation.
	ReactionDeregisterCoopOnException
	// ReactionIgnoreException logs and continues.
	ReactionIgnoreException
)

// ErrIllegalExceptionReactionForThreadSafeDispatcher is returned by
// ValidateExceptionReactionForDispatcher when an agent bound to a
// thread-safe (multithreaded) dispatcher declares a reaction other than
// abort or ignore — a fatal configuration error per spec.md §4.4.
var ErrIllegalExceptionReactionForThreadSafeDispatcher = illegalReactionError{}

type illegalReactionError struct{}

func (illegalReactionError) Error() string {
	return "agent: only abort_on_exception and ignore_exception are legal on a thread-safe dispatcher"
}

// defaultBreakerSettings configures the per-agent exception-storm guard
// that backstops ReactionIgnoreException (SPEC_FULL.md DOMAIN STACK):
// five consecutive handler exceptions within ten seconds trip the
// breaker, which escalates the agent to ReactionDeregisterCoopOnException
// rather than let it log-and-continue forever.
func defaultBreakerSettings(name string, onTrip func()) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen && from != gobreaker.StateOpen && onTrip != nil {
				onTrip()
			}
		},
	}
}
