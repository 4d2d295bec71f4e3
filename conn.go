// Package dxp implements the client side of DXP, the text-framed TCP protocol
// two draughts programs use to negotiate a game, exchange moves, take moves
// back, chat and end the game.
//
// A Session binds one connection. Incoming bytes are buffered and decoded by
// a state-driven loop that publishes an Event per message; the application
// drives the other direction through the Send methods.
package dxp

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by session operations.
var (
	// ErrInvalidOnEvent is returned when no event handler is provided.
	ErrInvalidOnEvent = errors.New("invalid on event callback")
	// ErrInvalidArgument is returned when a send operation is given a value
	// outside its domain. Nothing is written in that case.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotConnected is returned when sending before Connect.
	ErrNotConnected = errors.New("not connected")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Default configuration values.
const (
	// defaultBufferSize is the default size of the outbound queue.
	defaultBufferSize = 1
	// defaultReadBufferSize is the default size of one transport read.
	defaultReadBufferSize = 4096
	// defaultDialTimeout bounds Connect when no timeout is configured.
	defaultDialTimeout = 15 * time.Second
)

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// argumentError marks a send-side validation failure.
type argumentError struct {
	err error
}

func (e *argumentError) Error() string        { return e.err.Error() }
func (e *argumentError) Unwrap() error        { return e.err }
func (e *argumentError) Is(target error) bool { return target == ErrInvalidArgument }

func invalidArgument(err error) error {
	if errors.Is(err, ErrInvalidArgument) {
		return err
	}
	return &argumentError{err: err}
}

// Outbound lifecycle. The writer claims a message before writing it; a send
// whose ctx ends first withdraws it instead.
const (
	outboundQueued int32 = iota
	outboundWriting
	outboundWithdrawn
)

type outbound struct {
	data  []byte
	state atomic.Int32
	done  chan error
}

// link is the state of one established transport. Connect after a close
// builds a fresh one.
type link struct {
	rawConn net.Conn
	buffer  *streamBuffer
	states  *stateMachine
	sendMsg chan *outbound
	cancel  context.CancelFunc
	// stopping is closed as soon as any loop fails or Close is called,
	// before the loops have exited.
	stopping chan struct{}
	done     chan struct{}
	err      error
}

// Session is one DXP connection, either dialed by Connect or adopted from an
// accepted transport by Accept.
type Session struct {
	id     string
	addr   string
	opts   options
	logger Logger

	connectMu sync.Mutex
	mu        sync.Mutex
	link      *link
	connected atomic.Bool
}

// NewSession creates a session that will dial addr on Connect. An address
// without a port uses DefaultPort.
func NewSession(addr string, opt ...Option) (*Session, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return newSessionWithOptions(withDefaultPort(addr), opts), nil
}

// Accept wraps an already established transport, typically one handed out by
// Server, and starts decoding immediately.
func Accept(conn net.Conn, opt ...Option) (*Session, error) {
	s, err := NewSession(conn.RemoteAddr().String(), opt...)
	if err != nil {
		return nil, err
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	s.start(conn)

	return s, nil
}

// checkOptions validates and sets default values for session options.
func checkOptions(opts *options) error {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}

	if opts.onEvent == nil {
		return ErrInvalidOnEvent
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func newSessionWithOptions(addr string, opts options) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		addr:   addr,
		opts:   opts,
		logger: withFields(opts.logger, "session", id, "role", opts.role.String()),
	}
}

func withDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(DefaultPort))
}

// ID returns the random identifier the session logs with.
func (s *Session) ID() string {
	return s.id
}

// Role returns the configured role.
func (s *Session) Role() Role {
	return s.opts.role
}

// Addr returns the peer address.
func (s *Session) Addr() string {
	return s.addr
}

// Connected reports whether the transport is established.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// State returns the protocol state of the current connection, or the role's
// initial state when there is none.
func (s *Session) State() State {
	if l := s.current(); l != nil {
		return l.states.Current()
	}
	return s.opts.role.initialState()
}

// WaitState blocks until a transition into st releases the caller, or
// returns at once if st is already active. Waiters for the same state are
// released one per transition, oldest first.
func (s *Session) WaitState(ctx context.Context, st State) error {
	l := s.current()
	if l == nil {
		return ErrNotConnected
	}
	return l.states.Wait(ctx, st)
}

// Connect dials the peer, resets the state to the role's initial state and
// starts the decode loop. It returns nil at once when already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if s.connected.Load() {
		return nil
	}

	dialer := net.Dialer{Timeout: s.opts.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "connect %s", s.addr)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	s.start(conn)
	return nil
}

// start must be called with connectMu held.
func (s *Session) start(conn net.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		rawConn: conn,
		buffer:  newStreamBuffer(),
		states:  newStateMachine(s.opts.role.initialState()),
		sendMsg: make(chan *outbound, s.opts.bufferSize),
		cancel:   cancel,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.link = l
	s.mu.Unlock()
	s.connected.Store(true)
	s.opts.metrics.sessionUp()

	go s.run(ctx, l)
}

func (s *Session) current() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// run drives the read, decode and write loops of one connection until one
// of them fails or the session is closed.
func (s *Session) run(ctx context.Context, l *link) {
	s.logger.Info("connection established", "addr", s.addr)
	s.logger.Debug("session options", "addr", s.addr,
		"buffer_size", s.opts.bufferSize,
		"read_buffer_size", s.opts.readBufferSize,
		"read_timeout", s.opts.readTimeout)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.readLoop(l)
	})

	group.Go(func() error {
		return s.decodeLoop(child, l)
	})

	group.Go(func() error {
		return s.writeLoop(child, l)
	})

	group.Go(func() error {
		<-child.Done()
		close(l.stopping)
		_ = l.rawConn.Close()
		return nil
	})

	err := group.Wait()
	if ctx.Err() != nil {
		// Closed locally.
		err = nil
	}
	s.finish(l, err)
}

func (s *Session) finish(l *link, err error) {
	_ = l.rawConn.Close()
	l.buffer.Close(ErrConnectionClosed)
	l.states.Close(ErrConnectionClosed)

	s.mu.Lock()
	if s.link == l {
		s.connected.Store(false)
	}
	s.mu.Unlock()
	s.opts.metrics.sessionDown()

	l.err = err
	close(l.done)

	if err != nil && !errors.Is(err, ErrConnectionClosed) {
		s.logger.Info("connection closed with error", "addr", s.addr, "error", err)
	} else {
		s.logger.Info("connection closed", "addr", s.addr)
	}
}

// readLoop feeds everything the transport delivers into the buffer.
func (s *Session) readLoop(l *link) error {
	buf := make([]byte, s.opts.readBufferSize)
	for {
		if s.opts.readTimeout > 0 {
			_ = l.rawConn.SetReadDeadline(time.Now().Add(s.opts.readTimeout))
		}

		n, err := l.rawConn.Read(buf)
		if n > 0 {
			l.buffer.Feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrConnectionClosed
			}
			s.logger.Debug("read error", "addr", s.addr, "error", err)
			return errors.Wrap(err, "read")
		}
	}
}

// decodeLoop runs the engine. A decode failure is reported to onError; the
// buffer is closed either way so the read loop stops accumulating input.
func (s *Session) decodeLoop(ctx context.Context, l *link) error {
	e := &engine{
		buffer: l.buffer,
		states: l.states,
		logger: s.logger,
		publish: func(m Message) {
			s.publish(Received, m)
		},
	}

	err := e.run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrConnectionClosed) {
		return err
	}

	s.logger.Warn("decode loop stopped", "addr", s.addr, "state", l.states.Current().String(), "error", err)
	s.opts.metrics.failure(failureReason(err))
	l.buffer.Close(err)

	if s.opts.onError(err) == Disconnect {
		return err
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedField):
		return "malformed_field"
	case errors.Is(err, ErrUnexpectedOpcode):
		return "unexpected_opcode"
	default:
		return "other"
	}
}

// writeLoop writes queued messages in order and reports each completion.
// Messages still queued when it exits fail with ErrConnectionClosed.
func (s *Session) writeLoop(ctx context.Context, l *link) error {
	defer drainOutbound(l.sendMsg)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ob := <-l.sendMsg:
			if !ob.state.CompareAndSwap(outboundQueued, outboundWriting) {
				// Withdrawn by its sender.
				continue
			}
			_, err := l.rawConn.Write(ob.data)
			ob.done <- err
			if err != nil {
				s.logger.Debug("write error", "addr", s.addr, "error", err)
				return errors.Wrap(err, "write")
			}
		}
	}
}

func drainOutbound(queue chan *outbound) {
	for {
		select {
		case ob := <-queue:
			if ob.state.CompareAndSwap(outboundQueued, outboundWithdrawn) {
				ob.done <- ErrConnectionClosed
			}
		default:
			return
		}
	}
}

// Done returns a channel closed when the current connection has shut down.
func (s *Session) Done() <-chan struct{} {
	if l := s.current(); l != nil {
		return l.done
	}
	return closedChan
}

// Wait blocks until the current connection shuts down and returns the
// reason: nil after Close, ErrConnectionClosed when the peer hung up, or the
// decode or transport error that stopped it.
func (s *Session) Wait() error {
	l := s.current()
	if l == nil {
		return ErrNotConnected
	}
	<-l.done
	return l.err
}

// Close shuts the connection down and waits for its loops to exit.
// Safe to call multiple times.
func (s *Session) Close() error {
	l := s.current()
	if l == nil {
		return nil
	}
	l.cancel()
	<-l.done
	return nil
}

func (s *Session) publish(d Direction, m Message) {
	s.opts.metrics.message(d, m.Opcode())
	if d == Sent {
		s.logger.Debug("message sent", "kind", m.Opcode().String())
	}
	s.opts.onEvent(Event{Direction: d, Message: m})
}

// send writes m followed by an idle byte, waits for the write to complete,
// applies the transition if any and publishes the sent event.
//
// ctx bounds the wait for the writer. Once the writer has picked the message
// up it is no longer interrupted by ctx, only by the connection shutting
// down, so the state always matches what reached the wire.
func (s *Session) send(ctx context.Context, m Message, next State, transition bool) error {
	data, err := Encode(m)
	if err != nil {
		return invalidArgument(err)
	}

	l := s.current()
	if l == nil || !s.connected.Load() {
		return ErrNotConnected
	}

	select {
	case <-l.stopping:
		return ErrConnectionClosed
	default:
	}

	ob := &outbound{data: append(data, IdleByte), done: make(chan error, 1)}
	select {
	case l.sendMsg <- ob:
	case <-l.stopping:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err = <-ob.done:
	case <-l.stopping:
		err = waitStopped(ob)
	case <-ctx.Done():
		if ob.state.CompareAndSwap(outboundQueued, outboundWithdrawn) {
			return ctx.Err()
		}
		// Already being written.
		select {
		case err = <-ob.done:
		case <-l.stopping:
			err = waitStopped(ob)
		}
	}
	if err != nil {
		return errors.Wrap(err, "write")
	}

	if transition {
		l.states.Set(next)
	}
	s.publish(Sent, m)
	return nil
}

// waitStopped resolves ob once its link is shutting down. A message the
// writer already holds finishes or fails with the transport.
func waitStopped(ob *outbound) error {
	if ob.state.CompareAndSwap(outboundQueued, outboundWithdrawn) {
		return ErrConnectionClosed
	}
	if ob.state.Load() == outboundWriting {
		// The writer always reports a claimed message; the transport is
		// closed by now so the write cannot block.
		return <-ob.done
	}
	return ErrConnectionClosed
}

// GameRequestParams are the inputs of SendGameRequest before normalization.
type GameRequestParams struct {
	InitiatorName string
	// FollowerColor accepts W/w for white and B/b/Z/z for black.
	FollowerColor string
	// ThinkingTime of 0 means the default of 999; larger values are clamped.
	ThinkingTime int
	// MoveLimit above 999 is clamped.
	MoveLimit int
	// StartingPosition is "", "normal" or "A" for the normal position and
	// "specific", "custom" or "B" for a custom one.
	StartingPosition string
	// ColorToMoveFirst and Position are required for a custom position.
	// Position may use b/B for black pieces.
	ColorToMoveFirst string
	Position         string
}

// Build normalizes the parameters into a GameRequest.
func (p GameRequestParams) Build() (*GameRequest, error) {
	color, err := ParseColor(p.FollowerColor)
	if err != nil {
		return nil, errors.Wrap(err, "follower color")
	}

	if p.ThinkingTime < 0 || p.MoveLimit < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "negative thinking time %d or move limit %d",
			p.ThinkingTime, p.MoveLimit)
	}

	req := &GameRequest{
		Version:       ProtocolVersion,
		InitiatorName: PadName(p.InitiatorName),
		FollowerColor: color,
		ThinkingTime:  min(p.ThinkingTime, MaxThinkingTime),
		MoveLimit:     min(p.MoveLimit, MaxMoveLimit),
	}
	if req.ThinkingTime == 0 {
		req.ThinkingTime = DefaultThinkingTime
	}

	switch strings.ToLower(p.StartingPosition) {
	case "", "normal", "a":
		req.StartingPosition = NormalPosition
		return req, nil
	case "specific", "custom", "b":
		req.StartingPosition = CustomPosition
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "starting position %q", p.StartingPosition)
	}

	if req.ColorToMoveFirst, err = ParseColor(p.ColorToMoveFirst); err != nil {
		return nil, errors.Wrap(err, "color to move first")
	}
	req.Position = NormalizePosition(p.Position)
	if !validPosition(req.Position) {
		return nil, errors.Wrapf(ErrInvalidArgument, "position %q", p.Position)
	}

	return req, nil
}

// SendGameRequest offers a game and moves to RequestSent.
func (s *Session) SendGameRequest(ctx context.Context, p GameRequestParams) (*GameRequest, error) {
	req, err := p.Build()
	if err != nil {
		return nil, invalidArgument(err)
	}
	if err = s.send(ctx, req, RequestSent, true); err != nil {
		return nil, err
	}
	return req, nil
}

// SendGameAccept answers a game request and moves to AcceptSent.
// Code 0 accepts; 1-3 decline.
func (s *Session) SendGameAccept(ctx context.Context, followerName string, code int) (*GameAcceptance, error) {
	acc := &GameAcceptance{FollowerName: PadName(followerName), AcceptanceCode: code}
	if err := s.send(ctx, acc, AcceptSent, true); err != nil {
		return nil, err
	}
	return acc, nil
}

// SendMove sends a move from square from to square to that took elapsed
// seconds to find, capturing the pieces on the given squares.
func (s *Session) SendMove(ctx context.Context, elapsed, from, to int, captured ...int) (*Move, error) {
	m := &Move{Time: elapsed, From: from, To: to}
	if len(captured) > 0 {
		m.Captured = append([]int(nil), captured...)
	}
	if err := s.send(ctx, m, 0, false); err != nil {
		return nil, err
	}
	return m, nil
}

// SendGameEnd ends the game. The state is left unchanged; only a received
// game end returns the session to InitiatorIdle.
func (s *Session) SendGameEnd(ctx context.Context, reason, stopCode int) (*GameEnd, error) {
	m := &GameEnd{Reason: reason, StopCode: stopCode}
	if err := s.send(ctx, m, 0, false); err != nil {
		return nil, err
	}
	return m, nil
}

// SendChat sends free text of at most MaxChatLength bytes.
func (s *Session) SendChat(ctx context.Context, text string) (*Chat, error) {
	m := &Chat{Text: text}
	if err := s.send(ctx, m, 0, false); err != nil {
		return nil, err
	}
	return m, nil
}

// SendBackRequest asks the peer to take back moves up to moveNumber.
func (s *Session) SendBackRequest(ctx context.Context, moveNumber int, colorOnMove string) (*BackRequest, error) {
	color, err := ParseColor(colorOnMove)
	if err != nil {
		return nil, invalidArgument(errors.Wrap(err, "color on move"))
	}
	m := &BackRequest{MoveNumber: moveNumber, ColorOnMove: color}
	if err = s.send(ctx, m, 0, false); err != nil {
		return nil, err
	}
	return m, nil
}

// SendBackAccept answers a take-back request. Code 0 accepts.
func (s *Session) SendBackAccept(ctx context.Context, code int) (*BackAcceptance, error) {
	m := &BackAcceptance{AcceptanceCode: code}
	if err := s.send(ctx, m, 0, false); err != nil {
		return nil, err
	}
	return m, nil
}
