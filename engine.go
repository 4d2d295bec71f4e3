package dxp

import (
	"context"

	"github.com/pkg/errors"
)

// engine is the receive side of a session: it pulls opcodes from the buffer,
// decodes the message the current state allows, and advances the state.
type engine struct {
	buffer  *streamBuffer
	states  *stateMachine
	logger  Logger
	publish func(Message)
}

// run decodes until a step fails. Every failure is fatal: the stream has no
// framing to resynchronize on.
func (e *engine) run(ctx context.Context) error {
	for {
		if err := e.step(ctx); err != nil {
			return err
		}
	}
}

// step performs one unit of work for the current state.
func (e *engine) step(ctx context.Context) error {
	switch st := e.states.Current(); st {
	case InitiatorIdle:
		return e.states.Wait(ctx, RequestSent)
	case RequestReceived:
		return e.states.Wait(ctx, AcceptSent)
	case FollowerIdle:
		return e.expect(ctx, st, OpGameRequest, RequestReceived)
	case RequestSent:
		return e.expect(ctx, st, OpGameAcceptance, AcceptReceived)
	case AcceptSent, AcceptReceived:
		return e.play(ctx, st)
	default:
		return errors.Errorf("engine: unknown state %d", int(st))
	}
}

// expect handles the negotiation states, which accept exactly one opcode.
func (e *engine) expect(ctx context.Context, st State, want Opcode, next State) error {
	op, err := e.readOpcode(ctx)
	if err != nil {
		return err
	}
	if byte(op) == IdleByte {
		return nil
	}
	if op != want {
		return unexpectedOpcode(op, st)
	}

	m, err := Decode(ctx, e.buffer, op)
	if err != nil {
		return err
	}
	e.deliver(m, next, true)
	return nil
}

// play handles the game-in-progress states. AcceptSent and AcceptReceived
// behave identically here.
func (e *engine) play(ctx context.Context, st State) error {
	op, err := e.readOpcode(ctx)
	if err != nil {
		return err
	}

	next, transition := st, false
	switch op {
	case Opcode(IdleByte):
		return nil
	case OpMove, OpBackRequest, OpBackAcceptance, OpChat:
	case OpGameEnd:
		next, transition = InitiatorIdle, true
	case OpGameAcceptance:
		next, transition = AcceptReceived, true
	default:
		// Leave the byte for whoever inspects the stream next.
		e.buffer.Unread([]byte{byte(op)})
		return unexpectedOpcode(op, st)
	}

	m, err := Decode(ctx, e.buffer, op)
	if err != nil {
		return err
	}
	e.deliver(m, next, transition)
	return nil
}

func (e *engine) readOpcode(ctx context.Context) (Opcode, error) {
	b, err := e.buffer.ReadExact(ctx, 1)
	if err != nil {
		return 0, err
	}
	return Opcode(b[0]), nil
}

// deliver applies the transition before publishing, so a handler that sends
// in response observes the new state. Messages that keep the state do not
// touch the waiters.
func (e *engine) deliver(m Message, next State, transition bool) {
	if transition {
		e.states.Set(next)
	}
	e.logger.Debug("message received", "kind", m.Opcode().String(), "state", next.String())
	e.publish(m)
}

func unexpectedOpcode(op Opcode, st State) error {
	return errors.Wrapf(ErrUnexpectedOpcode, "opcode 0x%02x in state %s", byte(op), st)
}
