// Package dispatchtest provides a recording Dispatcher for tests.
package dispatchtest

import (
	"context"
	"slices"
	"sync"

	"thirdcoast.systems/carrot/internal/dispatch"
)

// Recorder keeps every dispatched message. When Err is set, Dispatch
// records the message and returns Err.
type Recorder struct {
	mu   sync.Mutex
	err  error
	msgs []dispatch.Message
	sent chan dispatch.Message
}

func New() *Recorder {
	return &Recorder{sent: make(chan dispatch.Message, 64)}
}

// Failing returns a Recorder whose deliveries fail with err.
func Failing(err error) *Recorder {
	r := New()
	r.err = err
	return r
}

func (r *Recorder) Dispatch(ctx context.Context, msg dispatch.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	err := r.err
	r.mu.Unlock()
	select {
	case r.sent <- msg:
	default:
	}
	return err
}

// Messages returns what has been dispatched so far.
func (r *Recorder) Messages() []dispatch.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.msgs)
}

// Sent delivers each dispatched message, for tests waiting on detached
// dispatches.
func (r *Recorder) Sent() <-chan dispatch.Message {
	return r.sent
}
