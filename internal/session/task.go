package session

import (
	"context"
	"sync"
)

// Task is a cancellable background operation owned by a session.
type Task struct {
	kind   TaskKind
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func newTask(kind TaskKind, cancel context.CancelFunc) *Task {
	return &Task{kind: kind, cancel: cancel, done: make(chan struct{})}
}

// Kind returns the task type.
func (t *Task) Kind() TaskKind { return t.kind }

// Done is closed once the task has finished and its result was applied.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Cancel asks the task to stop. It returns immediately.
func (t *Task) Cancel() { t.cancel() }

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		t.cancel()
		close(t.done)
	})
}
