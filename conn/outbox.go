package conn

import (
	"sync"

	"badc0de.net/pkg/go-mcproto/protocol"
)

// outbox is the bounded, ordered queue between a pipeline and the write loop.
//
// Write and Close are only called by the pipeline, under its lock, so Write
// never races with Close. stop is called when the write loop is gone or the
// connection is closed; it unblocks a pending Write, which then returns the
// error stop was given.
type outbox struct {
	ch       chan []byte
	gone     chan struct{}
	err      error
	stopOnce sync.Once
	shutOnce sync.Once
}

func newOutbox(size int) *outbox {
	if size <= 0 {
		size = 1
	}
	return &outbox{
		ch:   make(chan []byte, size),
		gone: make(chan struct{}),
	}
}

// Write queues one frame. It blocks while the queue is full.
func (o *outbox) Write(b []byte) (int, error) {
	select {
	case <-o.gone:
		return 0, o.err
	default:
	}
	select {
	case o.ch <- b:
		return len(b), nil
	case <-o.gone:
		return 0, o.err
	}
}

// Close lets the write loop drain what is queued and finish.
func (o *outbox) Close() error {
	o.shutOnce.Do(func() { close(o.ch) })
	return nil
}

// stop makes Write fail with err from now on. Only the first call counts.
// An err matching protocol.ErrClosed tells the pipeline the close was
// intended.
func (o *outbox) stop(err error) {
	o.stopOnce.Do(func() {
		if err == nil {
			err = protocol.ErrClosed
		}
		o.err = err
		close(o.gone)
	})
}

func (o *outbox) Len() int {
	return len(o.ch)
}
