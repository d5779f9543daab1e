package engine

import (
	"runtime"
	"sync"
	"time"
)

// WaitStrategy controls how a consumer stage waits for the preceding cursor
// to advance. Blocking trades latency for idle CPU, spinning the reverse.
type WaitStrategy interface {
	// WaitFor blocks until avail() >= seq or closed() reports true. It
	// returns the latest avail() value read after the closed check, so a
	// caller seeing a result below seq knows the upstream is finished.
	WaitFor(seq int64, avail func() int64, closed func() bool) int64
	// Signal wakes waiters after a cursor advance. Only the blocking
	// strategy needs it.
	Signal()
}

type blockingWait struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// NewBlockingWait parks waiters on a condition variable. This is the default
// and the right choice for anything that is not latency-benchmarking.
func NewBlockingWait() WaitStrategy {
	w := &blockingWait{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *blockingWait) WaitFor(seq int64, avail func() int64, closed func() bool) int64 {
	if hi := avail(); hi >= seq {
		return hi
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if hi := avail(); hi >= seq {
			return hi
		}
		if closed() {
			// Re-read after observing the close so nothing published
			// before the close is missed.
			return avail()
		}
		w.cond.Wait()
	}
}

func (w *blockingWait) Signal() {
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}

type sleepingWait struct {
	park time.Duration
}

// NewSleepingWait polls with a short sleep between checks.
func NewSleepingWait(park time.Duration) WaitStrategy {
	if park <= 0 {
		park = 50 * time.Microsecond
	}
	return &sleepingWait{park: park}
}

func (w *sleepingWait) WaitFor(seq int64, avail func() int64, closed func() bool) int64 {
	for {
		if hi := avail(); hi >= seq {
			return hi
		}
		if closed() {
			return avail()
		}
		time.Sleep(w.park)
	}
}

func (w *sleepingWait) Signal() {}

type spinningWait struct{}

// NewSpinningWait busy-spins with a Gosched between checks. It burns a core
// per stage and exists for latency measurements on dedicated hardware.
func NewSpinningWait() WaitStrategy {
	return &spinningWait{}
}

func (w *spinningWait) WaitFor(seq int64, avail func() int64, closed func() bool) int64 {
	for {
		if hi := avail(); hi >= seq {
			return hi
		}
		if closed() {
			return avail()
		}
		runtime.Gosched()
	}
}

func (w *spinningWait) Signal() {}

// NewWaitStrategy maps a config name to a strategy.
func NewWaitStrategy(name string) WaitStrategy {
	switch name {
	case "sleeping":
		return NewSleepingWait(50 * time.Microsecond)
	case "spinning":
		return NewSpinningWait()
	default:
		return NewBlockingWait()
	}
}
