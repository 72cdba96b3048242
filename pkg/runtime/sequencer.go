package runtime

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sequencer advances all active threads cooperatively. One call to
// StepThreads is a tick; a tick runs one or more passes. Within a
// pass every eligible thread is stepped at most once, in stable start
// order. Further passes happen only while threads asked for them
// (yield-tick) and wall-clock budget remains.
type Sequencer struct {
	rt *Runtime
}

// StepThreads runs one tick and returns the threads that finished
// during it. The per-tick budget is a soft deadline: the thread in
// flight finishes its atomic unit before the check, and remaining
// threads are deferred to the next tick rather than preempted.
func (s *Sequencer) StepThreads() []*Thread {
	cfg := s.rt.cfg
	interval := time.Duration(float64(time.Second) / float64(cfg.FrameRate))
	budget := time.Duration(float64(interval) * cfg.WorkFraction)
	deadline := cfg.Now().Add(budget)

	// Threads that yielded last tick become runnable again.
	for _, th := range s.rt.threads {
		if th.Status() == StatusYield {
			th.setStatus(StatusRunning)
		}
	}

	var finished []*Thread
	for {
		// Killed and completed threads leave the active set at the
		// start of each pass.
		finished = append(finished, s.sweep()...)

		pass := s.rt.Threads()
		stepped := false
		deferred := false
		for _, th := range pass {
			if cfg.Now().After(deadline) {
				deferred = true
				break
			}
			st := th.Status()
			if st == StatusYieldTick {
				th.setStatus(StatusRunning)
				st = StatusRunning
			}
			if st != StatusRunning {
				continue
			}
			s.stepThread(th)
			stepped = true
		}

		finished = append(finished, s.sweep()...)

		if deferred || !stepped || !s.anyRunnable() {
			break
		}
	}

	if len(finished) > 0 && len(s.rt.threads) == 0 {
		s.rt.notify(Event{Kind: EventAllThreadsFinished})
	}
	return finished
}

// stepThread runs one thread's step function, isolating faults: a
// panic kills only the offending thread and surfaces a diagnostic
// event; every other thread continues.
func (s *Sequencer) stepThread(th *Thread) {
	defer func() {
		if r := recover(); r != nil {
			th.Kill()
			err := fmt.Errorf("thread fault: %v", r)
			s.rt.log.Error("step function panicked",
				zap.String("thread", th.ID()),
				zap.String("target", th.Target().Name),
				zap.Any("panic", r))
			s.rt.notify(Event{
				Kind:     EventThreadFault,
				ThreadID: th.ID(),
				Target:   th.Target().Name,
				Err:      err,
			})
		}
	}()
	th.Step()
}

// Fault kills a thread for an error reported by an op (extension
// handlers that fail) and emits the diagnostic event. Isolation is
// per-thread, never global.
func (s *Sequencer) Fault(th *Thread, err error) {
	th.Kill()
	s.rt.log.Error("thread faulted",
		zap.String("thread", th.ID()),
		zap.String("target", th.Target().Name),
		zap.Error(err))
	s.rt.notify(Event{
		Kind:     EventThreadFault,
		ThreadID: th.ID(),
		Target:   th.Target().Name,
		Err:      err,
	})
}

// sweep removes finished threads from the active set, preserving the
// order of the survivors, and reports the removals.
func (s *Sequencer) sweep() []*Thread {
	var removed []*Thread
	kept := s.rt.threads[:0]
	for _, th := range s.rt.threads {
		if th.Status() == StatusDone {
			removed = append(removed, th)
			s.rt.notify(Event{
				Kind:     EventThreadFinished,
				ThreadID: th.ID(),
				Target:   th.Target().Name,
				Block:    th.TopBlock(),
			})
			continue
		}
		kept = append(kept, th)
	}
	s.rt.threads = kept
	return removed
}

func (s *Sequencer) anyRunnable() bool {
	for _, th := range s.rt.threads {
		switch th.Status() {
		case StatusRunning, StatusYieldTick:
			return true
		}
	}
	return false
}
