package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HandlerFunc mutates engine state in response to one envelope. Handlers
// never mutate the envelope, may append PlanOps/mutate the lease registry/
// emit new envelopes, and must be idempotent under replay (§4.3).
type HandlerFunc func(e *Engine, env Envelope) error

// DefaultThreadQueueDepth bounds each thread's FIFO; a full queue applies
// backpressure to the ingress path.
const DefaultThreadQueueDepth = 256

// DefaultDrainTimeout is how long Stop waits for in-flight threads to drain
// before returning (§5 Cancellation).
const DefaultDrainTimeout = 5 * time.Second

// Dispatcher routes envelopes to registered verb handlers, running each
// thread_id's envelopes through its own single-goroutine FIFO so handlers
// for one thread execute in Lamport arrival order while different threads
// run concurrently (§5 Ordering).
type Dispatcher struct {
	engine   *Engine
	handlers map[Kind]HandlerFunc

	mu      sync.Mutex
	threads map[string]chan Envelope
	wg      sync.WaitGroup
	closed  bool
}

// NewDispatcher returns a dispatcher bound to engine with the base verb
// handlers registered.
func NewDispatcher(engine *Engine) *Dispatcher {
	d := &Dispatcher{
		engine:   engine,
		handlers: make(map[Kind]HandlerFunc),
		threads:  make(map[string]chan Envelope),
	}
	d.registerBaseHandlers()
	return d
}

// Register installs (or overrides) the handler for kind.
func (d *Dispatcher) Register(kind Kind, h HandlerFunc) {
	d.handlers[kind] = h
}

// Dispatch enqueues env onto its thread's FIFO, lazily starting that
// thread's worker goroutine on first use. Returns an error immediately if
// the dispatcher has been stopped or the thread's queue is full.
func (d *Dispatcher) Dispatch(env Envelope) error {
	if d.engine.Gate != nil {
		if decision := d.engine.Gate.Ingress(env); !decision.Allowed {
			return Wrap(ErrKindPolicyDenied, fmt.Errorf("ingress gate denied %s: %v", env.Kind, decision.Reasons))
		}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Wrap(ErrKindInfrastructure, errDispatcherClosed)
	}
	ch, ok := d.threads[env.ThreadID]
	if !ok {
		ch = make(chan Envelope, DefaultThreadQueueDepth)
		d.threads[env.ThreadID] = ch
		d.wg.Add(1)
		go d.runThread(env.ThreadID, ch)
	}
	d.mu.Unlock()

	select {
	case ch <- env:
		return nil
	default:
		return Wrap(ErrKindResource, errThreadQueueFull)
	}
}

func (d *Dispatcher) runThread(threadID string, ch chan Envelope) {
	defer d.wg.Done()
	for env := range ch {
		h, ok := d.handlers[env.Kind]
		if !ok {
			logrus.WithFields(logrus.Fields{"thread_id": threadID, "kind": env.Kind}).Warn("dispatcher: no handler registered")
			continue
		}
		if err := h(d.engine, env); err != nil {
			logrus.WithFields(logrus.Fields{
				"thread_id": threadID,
				"kind":      env.Kind,
				"op_id":     env.ID,
				"err_kind":  KindOf(err),
			}).WithError(err).Warn("dispatcher: handler error")
		}
	}
}

// Stop closes every thread queue and waits up to DefaultDrainTimeout for
// in-flight handlers to finish; no new work is accepted once Stop is
// called.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.threads {
		close(ch)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(DefaultDrainTimeout):
		logrus.Warn("dispatcher: drain timeout exceeded, some handlers may still be running")
	}
}

var (
	errDispatcherClosed = dispatcherError("dispatcher stopped")
	errThreadQueueFull  = dispatcherError("thread queue full")
)

type dispatcherError string

func (e dispatcherError) Error() string { return string(e) }
