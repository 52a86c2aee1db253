package clientdriver

import (
	"context"
	"errors"
	"sync"
)

// ErrMatcherClosed is returned by a pending Wait call when Clear runs
// before anything matched it.
var ErrMatcherClosed = errors.New("matcher cleared before a match arrived")

type matchResult struct {
	msg any
	err error
}

type matcherEntry struct {
	predicate func(any) bool
	reply     chan matchResult
}

// ResponseMatcher lets call sites register a predicate and block until a
// message satisfying it arrives on the connection, turning the server's
// fire-and-forget push messages into a request/response shape. The driver
// offers every frame of its read loop to Dispatch before handling it
// itself; the Welcome and Roster that follow a Hello are read directly
// during the handshake and never reach the matcher.
// Entries are served in FIFO order and each message satisfies at most one
// waiter.
type ResponseMatcher struct {
	mu    sync.Mutex
	queue []*matcherEntry
}

// NewResponseMatcher builds an empty matcher.
func NewResponseMatcher() *ResponseMatcher {
	return &ResponseMatcher{}
}

// WaitFor blocks until a message satisfying predicate is delivered via
// Dispatch, or ctx is done.
func (m *ResponseMatcher) WaitFor(ctx context.Context, predicate func(any) bool) (any, error) {
	entry := &matcherEntry{predicate: predicate, reply: make(chan matchResult, 1)}

	m.mu.Lock()
	m.queue = append(m.queue, entry)
	m.mu.Unlock()

	select {
	case res := <-entry.reply:
		return res.msg, res.err
	case <-ctx.Done():
		m.remove(entry)
		return nil, ctx.Err()
	}
}

func (m *ResponseMatcher) remove(target *matcherEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.queue {
		if e == target {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// Dispatch offers msg to the oldest waiting matcher whose predicate
// accepts it. It reports whether any waiter consumed the message — a
// caller that gets false should go on to handle msg itself (e.g. roster
// updates that no one is explicitly waiting for).
func (m *ResponseMatcher) Dispatch(msg any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.queue {
		if e.predicate(msg) {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			e.reply <- matchResult{msg: msg}
			return true
		}
	}
	return false
}

// Clear drops every pending waiter, each returning ErrMatcherClosed. Call
// this when the underlying connection resets so no waiter blocks forever
// on a message that will never arrive.
func (m *ResponseMatcher) Clear() {
	m.mu.Lock()
	queue := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, e := range queue {
		e.reply <- matchResult{err: ErrMatcherClosed}
	}
}
