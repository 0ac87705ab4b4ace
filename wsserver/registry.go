package wsserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateOperationID is returned when a client starts an operation
// with an id that is already live on the connection.
var ErrDuplicateOperationID = errors.New("operation id already exists")

// registry tracks the in-flight operations of a single connection,
// keyed by the client-chosen operation id. At most one live operation
// exists per id.
type registry struct {
	mu  sync.Mutex
	ops map[string]context.CancelFunc
}

// register derives a cancellable context from parent and stores its
// cancel handle under id.
func (r *registry) register(id string, parent context.Context) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ops == nil {
		r.ops = make(map[string]context.CancelFunc)
	}

	if _, ok := r.ops[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOperationID, id)
	}

	ctx, cancel := context.WithCancel(parent)
	r.ops[id] = cancel

	return ctx, nil
}

// lookup reports whether id is live.
func (r *registry) lookup(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.ops[id]
	return ok
}

// remove deletes id and returns its cancel handle, or nil when the id
// is not live.
func (r *registry) remove(id string) context.CancelFunc {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancel, ok := r.ops[id]
	if !ok {
		return nil
	}

	delete(r.ops, id)
	return cancel
}

// drain removes every operation and returns their cancel handles. Used
// on connection teardown so each operation is cancelled exactly once.
func (r *registry) drain() []context.CancelFunc {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancels := make([]context.CancelFunc, 0, len(r.ops))
	for _, cancel := range r.ops {
		cancels = append(cancels, cancel)
	}

	r.ops = nil
	return cancels
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.ops)
}
