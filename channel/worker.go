package channel

import (
	"fmt"
	"sync"

	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/queue"
)

// task is one unit of work submitted to a peer's worker: a local command or
// an inbound peer message, both reduced to a thunk that loads, applies, and
// persists the channel record. fn's return value is delivered back to
// whichever caller is blocked on result.
type task struct {
	fn     func() (interface{}, error)
	result chan taskResult
}

type taskResult struct {
	val interface{}
	err error
}

// worker owns the single task queue for one peer identity, guaranteeing the
// total ordering §5 requires. Once dead is set the worker accepts no further
// work; every queued and future task is failed with the cause.
type worker struct {
	peer  lnpeer.Identity
	pool  *WorkerPool
	queue *queue.ConcurrentQueue

	mu   sync.Mutex
	dead bool
	err  error
}

func newWorker(peer lnpeer.Identity, pool *WorkerPool) *worker {
	w := &worker{
		peer:  peer,
		pool:  pool,
		queue: queue.NewConcurrentQueue(8),
	}
	w.queue.Start()
	go w.run()
	return w
}

func (w *worker) run() {
	for item := range w.queue.ChanOut() {
		t := item.(task)

		w.mu.Lock()
		dead, cause := w.dead, w.err
		w.mu.Unlock()
		if dead {
			t.result <- taskResult{err: &ErrWorkerDead{Peer: w.peer, Cause: cause}}
			continue
		}

		val, err := t.fn()
		if fatal, ok := err.(*FatalError); ok {
			w.mu.Lock()
			w.dead = true
			w.err = fatal
			w.mu.Unlock()

			// Best-effort pkt_error to the peer, per §4.2/§9: the worker
			// is dying either way, so a failure here is not reported back.
			if onFatal := w.pool.getOnFatal(); onFatal != nil {
				onFatal(w.peer, fatal)
			}
		}
		t.result <- taskResult{val: val, err: err}
	}
}

func (w *worker) submit(fn func() (interface{}, error)) (interface{}, error) {
	w.mu.Lock()
	if w.dead {
		err := w.err
		w.mu.Unlock()
		return nil, &ErrWorkerDead{Peer: w.peer, Cause: err}
	}
	w.mu.Unlock()

	t := task{fn: fn, result: make(chan taskResult, 1)}
	w.queue.ChanIn() <- t
	res := <-t.result
	return res.val, res.err
}

// WorkerPool hash-partitions tasks across one worker goroutine per peer
// identity, per §5's "partitioned worker pool" requirement. A peer's worker
// is created lazily on first use and lives for the process lifetime (or
// until it dies from a fatal error).
type WorkerPool struct {
	mu      sync.Mutex
	workers map[lnpeer.Identity]*worker

	// onFatal, when set, is invoked by a worker immediately after it dies
	// from a *FatalError, before the result reaches the caller. Machine
	// wires this to notifyFatal so the peer best-effort learns of the
	// failure via PeerClient.SendError. Guarded by mu since it is set from
	// Machine.submit on every call and read from worker goroutines.
	onFatal func(peer lnpeer.Identity, cause *FatalError)
}

func NewWorkerPool() *WorkerPool {
	return &WorkerPool{workers: make(map[lnpeer.Identity]*worker)}
}

// setOnFatal installs the pool-wide fatal-error notification hook.
func (p *WorkerPool) setOnFatal(fn func(peer lnpeer.Identity, cause *FatalError)) {
	p.mu.Lock()
	p.onFatal = fn
	p.mu.Unlock()
}

func (p *WorkerPool) getOnFatal() func(peer lnpeer.Identity, cause *FatalError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onFatal
}

func (p *WorkerPool) workerFor(peer lnpeer.Identity) *worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[peer]
	if !ok {
		w = newWorker(peer, p)
		p.workers[peer] = w
	}
	return w
}

// Submit enqueues fn on peer's worker and blocks until it runs, returning
// whatever fn returns. Safe to call concurrently for different peers; calls
// for the same peer serialize.
func (p *WorkerPool) Submit(peer lnpeer.Identity, fn func() (interface{}, error)) (interface{}, error) {
	return p.workerFor(peer).submit(fn)
}

// IsDead reports whether peer's worker has already terminated fatally, and
// if so, why.
func (p *WorkerPool) IsDead(peer lnpeer.Identity) (bool, error) {
	p.mu.Lock()
	w, ok := p.workers[peer]
	p.mu.Unlock()
	if !ok {
		return false, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dead, w.err
}

func (p *WorkerPool) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("WorkerPool{%d peers}", len(p.workers))
}
