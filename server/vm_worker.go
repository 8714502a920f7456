package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("vm worker stopped")

// PanicError wraps a value a job panicked with.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprint(e.Value) }

// VMWorker owns a VM and runs jobs on it one at a time from its own
// goroutine. LSP handlers run concurrently; the VM does not.
type VMWorker struct {
	vm   *vm.VM
	jobs chan func()
	quit chan struct{}
	once sync.Once
}

// NewVMWorker starts a worker for v.
func NewVMWorker(v *vm.VM) *VMWorker {
	w := &VMWorker{
		vm:   v,
		jobs: make(chan func()),
		quit: make(chan struct{}),
	}
	go w.serve()
	return w
}

func (w *VMWorker) serve() {
	for {
		select {
		case <-w.quit:
			return
		case job := <-w.jobs:
			job()
		}
	}
}

// Do runs fn on the worker's VM and waits for its result. A panic in fn is
// returned as a *PanicError and leaves the worker running.
func (w *VMWorker) Do(fn func(*vm.VM) any) (any, error) {
	select {
	case <-w.quit:
		return nil, ErrWorkerStopped
	default:
	}

	var (
		value any
		err   error
	)
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r}
			}
		}()
		value = fn(w.vm)
	}

	select {
	case w.jobs <- job:
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
	<-finished
	return value, err
}

// Stop ends the worker once the running job, if any, returns. Later calls
// to Do fail with ErrWorkerStopped.
func (w *VMWorker) Stop() {
	w.once.Do(func() { close(w.quit) })
}
