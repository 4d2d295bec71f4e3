package dxp

import (
	"context"
	"sync"
)

// State is the protocol state of a session. Exactly one is active at a time.
type State int

const (
	InitiatorIdle State = iota
	FollowerIdle
	RequestSent
	RequestReceived
	AcceptSent
	AcceptReceived
)

func (s State) String() string {
	switch s {
	case InitiatorIdle:
		return "initiator_idle"
	case FollowerIdle:
		return "follower_idle"
	case RequestSent:
		return "request_sent"
	case RequestReceived:
		return "request_received"
	case AcceptSent:
		return "accept_sent"
	case AcceptReceived:
		return "accept_received"
	default:
		return "unknown"
	}
}

// Role selects which side of the game negotiation a session plays.
type Role int

const (
	Initiator Role = iota
	Follower
)

func (r Role) String() string {
	if r == Follower {
		return "follower"
	}
	return "initiator"
}

// initialState returns the state a fresh connection starts in.
func (r Role) initialState() State {
	if r == Follower {
		return FollowerIdle
	}
	return InitiatorIdle
}

// stateMachine holds the current state and, per target state, a queue of
// single-shot waiters. A transition into a state releases only the oldest
// waiter registered for it.
type stateMachine struct {
	mu      sync.Mutex
	current State
	waiters map[State][]chan error
	err     error
}

func newStateMachine(initial State) *stateMachine {
	return &stateMachine{
		current: initial,
		waiters: make(map[State][]chan error),
	}
}

// Current returns the active state.
func (m *stateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set makes s the active state and releases the oldest waiter for s.
func (m *stateMachine) Set(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = s
	queue := m.waiters[s]
	if len(queue) == 0 {
		return
	}
	queue[0] <- nil
	queue[0] = nil
	if len(queue) == 1 {
		delete(m.waiters, s)
	} else {
		m.waiters[s] = queue[1:]
	}
}

// Wait blocks until a transition into s releases this caller. It returns
// immediately when s is already active.
func (m *stateMachine) Wait(ctx context.Context, s State) error {
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return err
	}
	if m.current == s {
		m.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	m.waiters[s] = append(m.waiters[s], ch)
	m.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		m.mu.Lock()
		removed := m.removeLocked(s, ch)
		m.mu.Unlock()
		if removed {
			return ctx.Err()
		}
		// Released concurrently with the cancellation.
		return <-ch
	}
}

// Close releases every waiter with err. Later waits fail with err.
func (m *stateMachine) Close(err error) {
	if err == nil {
		err = ErrConnectionClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return
	}
	m.err = err
	for s, queue := range m.waiters {
		for _, ch := range queue {
			ch <- err
		}
		delete(m.waiters, s)
	}
}

func (m *stateMachine) removeLocked(s State, ch chan error) bool {
	queue := m.waiters[s]
	for i, c := range queue {
		if c == ch {
			queue = append(queue[:i], queue[i+1:]...)
			if len(queue) == 0 {
				delete(m.waiters, s)
			} else {
				m.waiters[s] = queue
			}
			return true
		}
	}
	return false
}
