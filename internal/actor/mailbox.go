// Package actor provides a mailbox that runs submitted closures one at a time
// on a single goroutine, so state owned by the mailbox needs no locks.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrStopped is returned when submitting to a mailbox that has been stopped.
var ErrStopped = errors.New("actor: mailbox stopped")

type Mailbox struct {
	cmds chan func()
	quit chan struct{}
	done chan struct{}
}

// New starts a mailbox goroutine with the given queue depth.
func New(depth int) *Mailbox {
	m := &Mailbox{
		cmds: make(chan func(), depth),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mailbox) run() {
	defer close(m.done)
	for {
		select {
		case <-m.quit:
			return
		case fn := <-m.cmds:
			fn()
		}
	}
}

// Stop ends the loop after the command in progress. Pending commands are dropped.
func (m *Mailbox) Stop() {
	select {
	case <-m.quit:
	default:
		close(m.quit)
	}
	<-m.done
}

const (
	queued int32 = iota
	started
	abandoned
)

// Call runs fn on the mailbox goroutine and returns its result. If ctx ends
// before fn is dequeued, fn never runs and Call returns ctx.Err(). Once fn has
// started, Call waits for it, so a nil error always means fn ran and an
// error from ctx always means it did not.
func Call[T any](ctx context.Context, m *Mailbox, fn func() (T, error)) (T, error) {
	var zero T
	type result struct {
		value T
		err   error
	}
	var phase atomic.Int32
	reply := make(chan result, 1)
	cmd := func() {
		if !phase.CompareAndSwap(queued, started) {
			return
		}
		var r result
		defer func() {
			if p := recover(); p != nil {
				r = result{err: fmt.Errorf("actor: panic: %v", p)}
			}
			reply <- r
		}()
		if ctx.Err() != nil {
			r.err = ctx.Err()
			return
		}
		r.value, r.err = fn()
	}
	// A reply may race with the mailbox stopping; it wins.
	stopped := func() (T, error) {
		select {
		case r := <-reply:
			return r.value, r.err
		default:
			return zero, ErrStopped
		}
	}
	select {
	case <-m.quit:
		return zero, ErrStopped
	default:
	}
	select {
	case m.cmds <- cmd:
	case <-m.quit:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.value, r.err
	case <-m.done:
		return stopped()
	case <-ctx.Done():
	}
	if phase.CompareAndSwap(queued, abandoned) {
		return zero, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.value, r.err
	case <-m.done:
		return stopped()
	}
}

// Do is Call for closures with no result.
func Do(ctx context.Context, m *Mailbox, fn func() error) error {
	_, err := Call(ctx, m, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Post enqueues fn without waiting for it. It reports false if the mailbox is stopped.
func (m *Mailbox) Post(fn func()) bool {
	select {
	case <-m.quit:
		return false
	default:
	}
	select {
	case m.cmds <- fn:
		return true
	case <-m.quit:
		return false
	}
}
