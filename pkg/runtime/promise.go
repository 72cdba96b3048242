package runtime

import (
	"sync"

	"github.com/chazu/stagehand/pkg/value"
)

// Promise parks a thread on an asynchronous result (an extension block
// doing I/O). The host resolves it from outside the scheduling loop;
// resolution of a killed thread's promise is a no-op.
type Promise struct {
	mu       sync.Mutex
	resolved bool
	val      value.Value
	thread   *Thread
}

// NewPromise creates a promise bound to the thread that will wait on
// it. The creating op returns Wait(p) to park the thread.
func NewPromise(th *Thread) *Promise {
	return &Promise{thread: th}
}

// Resolve delivers the result and wakes the waiting thread. Repeat
// resolutions are ignored.
func (p *Promise) Resolve(v value.Value) {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	p.val = v
	th := p.thread
	p.mu.Unlock()

	if th != nil {
		th.resumeFromPromise(p)
	}
}

// Resolved reports whether Resolve has been called.
func (p *Promise) Resolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved
}

// Value returns the resolved result (zero until resolved).
func (p *Promise) Value() value.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.val
}
