package engine

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/smallbiznis/bankcore/internal/command"
)

var (
	ErrRingClosed    = errors.New("engine: ring is closed")
	ErrBatchTooLarge = errors.New("engine: batch larger than ring capacity")
)

// Handler processes one event at a given sequence. endOfBatch is true for the
// last event of the run the stage claimed, which is where batching handlers
// flush.
type Handler interface {
	OnEvent(ev *Event, seq int64, endOfBatch bool)
}

type stage struct {
	name    string
	handler Handler
	seq     atomic.Int64
	// upstream is the cursor this stage trails: the publish cursor for the
	// first stage, the previous stage's cursor otherwise.
	upstream func() int64
	// stopped reports that the upstream can no longer advance, so a wait
	// coming up empty means the stage is done.
	stopped func() bool
	done    chan struct{}
}

// Ring is a bounded buffer of pre-allocated event slots with a chain of
// single-goroutine consumer stages. Sequences increase forever; a sequence
// maps to slot seq&mask. A slot may be recycled only once the final stage
// has passed it, which the publisher enforces through backpressure.
type Ring struct {
	slots []Event
	mask  int64
	size  int64

	published atomic.Int64
	stages    []*stage
	wait      WaitStrategy

	pubMu  sync.Mutex
	closed atomic.Bool
	wg     sync.WaitGroup

	log *zap.Logger
}

// NewRing builds a ring of the given power-of-two size with the stages wired
// in pipeline order.
func NewRing(size int, wait WaitStrategy, log *zap.Logger) *Ring {
	if size <= 0 || size&(size-1) != 0 {
		panic("engine: ring size must be a positive power of two")
	}
	r := &Ring{
		slots: make([]Event, size),
		mask:  int64(size - 1),
		size:  int64(size),
		wait:  wait,
		log:   log,
	}
	r.published.Store(-1)
	return r
}

// AddStage appends a consumer stage. Stages must all be added before Start.
func (r *Ring) AddStage(name string, h Handler) {
	s := &stage{name: name, handler: h, done: make(chan struct{})}
	s.seq.Store(-1)
	if len(r.stages) == 0 {
		s.upstream = r.published.Load
		s.stopped = r.closed.Load
	} else {
		prev := r.stages[len(r.stages)-1]
		s.upstream = prev.seq.Load
		s.stopped = func() bool {
			select {
			case <-prev.done:
				return true
			default:
				return false
			}
		}
	}
	r.stages = append(r.stages, s)
}

// Start launches one goroutine per stage.
func (r *Ring) Start() {
	for _, s := range r.stages {
		r.wg.Add(1)
		go r.runStage(s)
	}
}

// PublishBatch claims len(cmds) consecutive slots, resets them with the
// commands and publishes them atomically: no stage observes any event of the
// batch before all slots are written. Blocks while the ring lacks capacity.
func (r *Ring) PublishBatch(cmds []command.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	if int64(len(cmds)) > r.size {
		return ErrBatchTooLarge
	}

	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	if r.closed.Load() {
		return ErrRingClosed
	}

	lo := r.published.Load() + 1
	hi := lo + int64(len(cmds)) - 1

	// The slot for hi is free once the final stage has consumed hi-size.
	last := r.stages[len(r.stages)-1]
	if got := r.wait.WaitFor(hi-r.size, last.seq.Load, r.closed.Load); got < hi-r.size {
		return ErrRingClosed
	}

	for i := range cmds {
		r.slots[(lo+int64(i))&r.mask].Reset(cmds[i])
	}
	r.published.Store(hi)
	r.wait.Signal()
	return nil
}

// Close stops accepting publishes, lets every stage drain what was already
// published and waits for the stage goroutines to exit.
func (r *Ring) Close() {
	r.pubMu.Lock()
	if !r.closed.CompareAndSwap(false, true) {
		r.pubMu.Unlock()
		return
	}
	r.pubMu.Unlock()
	r.wait.Signal()
	r.wg.Wait()
	if r.log != nil {
		r.log.Info("ring drained and closed",
			zap.Int64("last_published", r.published.Load()),
		)
	}
}

func (r *Ring) runStage(s *stage) {
	defer r.wg.Done()
	defer func() {
		close(s.done)
		r.wait.Signal()
	}()
	next := int64(0)
	for {
		hi := r.wait.WaitFor(next, s.upstream, s.stopped)
		if hi < next {
			// Upstream finished with nothing left for us.
			return
		}
		for seq := next; seq <= hi; seq++ {
			s.handler.OnEvent(&r.slots[seq&r.mask], seq, seq == hi)
		}
		s.seq.Store(hi)
		r.wait.Signal()
		next = hi + 1
	}
}

// Cursor reports the sequence last consumed by the named stage, for tests
// and diagnostics.
func (r *Ring) Cursor(name string) int64 {
	for _, s := range r.stages {
		if s.name == name {
			return s.seq.Load()
		}
	}
	return -1
}

// Published reports the highest published sequence.
func (r *Ring) Published() int64 {
	return r.published.Load()
}
