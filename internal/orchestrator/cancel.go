package orchestrator

import (
	"context"
	"sync"
)

// cancelRegistry tracks the one long-running acquisition task allowed per
// request and lets Cancel reach into it. acquire is exclusive: while a task
// holds a request id, further acquires for that id fail, which is what keeps
// a retry from racing an active sniper.
type cancelRegistry struct {
	mu    sync.Mutex
	tasks map[int64]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{tasks: make(map[int64]context.CancelFunc)}
}

// acquire registers a task for the request and returns its context. ok is
// false when another task already holds the id. The caller must invoke
// release when the task finishes.
func (r *cancelRegistry) acquire(requestID int64) (ctx context.Context, release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.tasks[requestID]; busy {
		return nil, nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.tasks[requestID] = cancel

	release = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if stored, present := r.tasks[requestID]; present {
			stored()
			delete(r.tasks, requestID)
		}
	}
	return ctx, release, true
}

// cancel fires the cancellation signal for the request's task, if any. The
// task itself releases the slot on exit.
func (r *cancelRegistry) cancel(requestID int64) {
	r.mu.Lock()
	cancelFn := r.tasks[requestID]
	r.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
	}
}

// active reports whether a task currently holds the request id.
func (r *cancelRegistry) active(requestID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.tasks[requestID]
	return busy
}
