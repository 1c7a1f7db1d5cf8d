package persist

import (
	"errors"
	"sync"
)

// ErrWorkerClosed is returned by Post after the worker shut down.
var ErrWorkerClosed = errors.New("serialization worker closed")

// Worker serializes requests off the caller's goroutine. Every posted
// request produces exactly one Response through the deliver callback the
// worker was built with. Workers never touch storage.
type Worker interface {
	Post(req Request) error
	Close() error
}

// WorkerFactory builds a worker that reports responses through deliver. A
// factory may return a nil worker (or an error) when serialization should
// stay on the scheduler side.
type WorkerFactory func(deliver func(Response)) (Worker, error)

// NewJSONWorker starts a goroutine that JSON-encodes requests in arrival order.
func NewJSONWorker(deliver func(Response)) (Worker, error) {
	if deliver == nil {
		return nil, errors.New("deliver callback required")
	}
	w := &jsonWorker{
		requests: make(chan Request, 16),
		deliver:  deliver,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

type jsonWorker struct {
	mu       sync.Mutex
	closed   bool
	requests chan Request
	deliver  func(Response)
	done     chan struct{}
}

func (w *jsonWorker) run() {
	defer close(w.done)
	for req := range w.requests {
		resp := Response{JobID: req.JobID}
		sessions, global, err := Serialize(req)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.SessionsJSON = sessions
			resp.GlobalJSON = global
		}
		w.deliver(resp)
	}
}

func (w *jsonWorker) Post(req Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWorkerClosed
	}
	w.requests <- req
	return nil
}

// Close stops accepting requests and waits for queued ones to be delivered.
func (w *jsonWorker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.requests)
	w.mu.Unlock()
	<-w.done
	return nil
}
