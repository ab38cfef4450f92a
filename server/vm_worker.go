package server

import (
	"errors"
	"fmt"
)

var errWorkerStopped = errors.New("vm worker stopped")

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(*SessionStore) interface{}
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value interface{}
	err   error
}

// VMWorker serializes all session and VM access through a single
// goroutine. The interpreter is single-threaded; every Connect and gRPC
// handler must go through the worker to avoid data races.
type VMWorker struct {
	sessions *SessionStore
	requests chan vmRequest
	quit     chan struct{}
}

// NewVMWorker creates a VMWorker over sessions and starts the processing
// goroutine.
func NewVMWorker(sessions *SessionStore) *VMWorker {
	w := &VMWorker{
		sessions: sessions,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			result := w.execute(req.fn)
			req.done <- result
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the session store, recovering from panics.
func (w *VMWorker) execute(fn func(*SessionStore) interface{}) vmResult {
	var result vmResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.sessions)
	}()
	return result
}

// Do submits a function for execution on the VM goroutine and blocks
// until it completes. Returns the result and any error (including panics).
func (w *VMWorker) Do(fn func(*SessionStore) interface{}) (interface{}, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case <-w.quit:
		return nil, errWorkerStopped
	default:
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, errWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, errWorkerStopped
	}
}

// Stop shuts down the worker goroutine.
func (w *VMWorker) Stop() {
	close(w.quit)
}

// Sessions returns the store the worker guards. Callers outside the worker
// goroutine may only use its locked bookkeeping methods.
func (w *VMWorker) Sessions() *SessionStore {
	return w.sessions
}
