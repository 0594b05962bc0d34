// Package limit implements per-message-type overload control for a sink
// attached to a mbox, per spec.md §4.3 (C5): limit_then_drop,
// limit_then_abort, limit_then_redirect, limit_then_transform, plus the
// any_unspecified_message wildcard reaction.
package limit

import (
	"log/slog"

	"code.hybscloud.com/atomix"

	"github.com/webitel/actorkit/kernel"
	"github.com/webitel/actorkit/message"
)

// Reaction names the policy applied once a control block's count exceeds
// its configured limit.
type Reaction int

const (
	// ReactionDrop silently discards the overflowing message.
	ReactionDrop Reaction = iota
	// ReactionAbort terminates the process after logging.
	ReactionAbort
	// ReactionRedirect re-sends the message to another Target.
	ReactionRedirect
	// ReactionTransform replaces the message with a new one, possibly of
	// a different type, addressed to a Target the transform function
	// picks.
	ReactionTransform
)

// Target is the minimal capability a limit.Control needs from a mbox to
// carry out a redirect/transform reaction: mbox.Mbox satisfies this
// without limit importing mbox, avoiding an import cycle.
type Target interface {
	Redirect(inst *message.Instance) error
}

// RedirectFunc resolves the destination of a limit_then_redirect
// reaction. It is called once per overflow, so it may consult
// environment state (e.g. round-robin among several trash mboxes).
type RedirectFunc func() Target

// TransformFunc resolves both the destination and the replacement
// message of a limit_then_transform reaction.
type TransformFunc func(overflowed *message.Instance) (Target, *message.Instance)

// Control is one (agent, msg_type) overload-control block. The zero value
// is not usable; construct with one of the New* functions.
type Control struct {
	max         int64
	count       atomix.Int64
	reaction    Reaction
	redirectFn  RedirectFunc
	transformFn TransformFunc
	logger      *slog.Logger
}

// NewDrop returns a control block that silently discards messages once
// max are outstanding.
func NewDrop(max int64) *Control {
	return &Control{max: max, reaction: ReactionDrop}
}

// NewAbort returns a control block that aborts the process on overflow,
// for message types whose loss would violate an invariant.
func NewAbort(max int64, logger *slog.Logger) *Control {
	return &Control{max: max, reaction: ReactionAbort, logger: logger}
}

// NewRedirect returns a control block that re-sends overflowing messages
// via fn.
func NewRedirect(max int64, fn RedirectFunc) *Control {
	return &Control{max: max, reaction: ReactionRedirect, redirectFn: fn}
}

// NewTransform returns a control block that replaces overflowing
// messages via fn.
func NewTransform(max int64, fn TransformFunc) *Control {
	return &Control{max: max, reaction: ReactionTransform, transformFn: fn}
}

// Max returns the configured limit.
func (c *Control) Max() int64 { return c.max }

// Count returns the number of demands currently admitted and not yet
// released.
func (c *Control) Count() int64 { return c.count.LoadAcquire() }

// Admit registers one more in-flight demand for inst. It returns true if
// the demand should be enqueued to the sink's event queue; the caller
// must call Release exactly once after the corresponding handler
// returns, for every Admit that returned true. A false return means the
// message was not enqueued — either discarded or handed off to the
// configured reaction — and err carries a hard failure, if any (e.g. a
// redirect whose own depth counter is exhausted).
//
// Testable property (spec.md §8): Count never exceeds Max, even with
// concurrent callers, because the reservation is a compare-and-swap that
// only increments a count still below Max.
func (c *Control) Admit(inst *message.Instance) (bool, error) {
	for {
		cur := c.count.LoadAcquire()
		if cur >= c.max {
			break
		}
		if c.count.CompareAndSwapAcqRel(cur, cur+1) {
			return true, nil
		}
	}

	switch c.reaction {
	case ReactionDrop:
		return false, nil
	case ReactionAbort:
		kernel.Abort(c.logger, "message-limit exceeded under abort policy", "msg_type", inst.Type().String(), "limit", c.max)
		return false, nil
	case ReactionRedirect:
		redirected, err := inst.Redirected()
		if err != nil {
			return false, err
		}
		return false, c.redirectFn().Redirect(redirected)
	case ReactionTransform:
		target, transformed := c.transformFn(inst)
		redirected, err := transformed.Redirected()
		if err != nil {
			return false, err
		}
		return false, target.Redirect(redirected)
	default:
		return false, nil
	}
}

// Release returns the control block's count after decrementing it; the
// agent kernel calls this once a handler admitted by Admit has finished
// running (spec.md §4.4).
func (c *Control) Release() int64 {
	return c.count.AddAcqRel(-1)
}
