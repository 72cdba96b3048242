package runtime

import "github.com/chazu/stagehand/pkg/blocks"

// EventKind classifies runtime notifications.
type EventKind int

const (
	// EventThreadStarted fires when a hat trigger creates or restarts
	// a thread.
	EventThreadStarted EventKind = iota
	// EventThreadFinished fires when a thread leaves the active set.
	EventThreadFinished
	// EventAllThreadsFinished fires when the active set drains.
	EventAllThreadsFinished
	// EventCompileError reports a script that failed IR generation;
	// the script was not started.
	EventCompileError
	// EventThreadFault reports an exception escaping a step function;
	// the offending thread was killed, others are unaffected.
	EventThreadFault
	// EventWarpCapExceeded reports a warp region force-yielded at the
	// safety iteration bound.
	EventWarpCapExceeded
	// EventSay carries a sprite's say-bubble text.
	EventSay
)

func (k EventKind) String() string {
	switch k {
	case EventThreadStarted:
		return "thread-started"
	case EventThreadFinished:
		return "thread-finished"
	case EventAllThreadsFinished:
		return "all-threads-finished"
	case EventCompileError:
		return "compile-error"
	case EventThreadFault:
		return "thread-fault"
	case EventWarpCapExceeded:
		return "warp-cap-exceeded"
	case EventSay:
		return "say"
	default:
		return "unknown"
	}
}

// Event is a one-way, fire-and-forget notification to the host. The
// core never presents UI; hosts decide what to do with these.
type Event struct {
	Kind     EventKind
	ThreadID string
	Target   string
	Block    blocks.ID
	Message  string
	Err      error
}

// Listener receives runtime events. Listeners run synchronously on the
// scheduling goroutine and must not block.
type Listener func(Event)
