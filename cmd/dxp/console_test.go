package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Zereker/dxp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender records console calls as strings.
type fakeSender struct {
	calls []string
}

func (f *fakeSender) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeSender) SendGameRequest(ctx context.Context, p dxp.GameRequestParams) (*dxp.GameRequest, error) {
	f.record("request %s %s", p.InitiatorName, p.FollowerColor)
	return p.Build()
}

func (f *fakeSender) SendGameAccept(ctx context.Context, name string, code int) (*dxp.GameAcceptance, error) {
	f.record("accept %s %d", name, code)
	return &dxp.GameAcceptance{}, nil
}

func (f *fakeSender) SendMove(ctx context.Context, elapsed, from, to int, captured ...int) (*dxp.Move, error) {
	f.record("move %d %d %d %v", elapsed, from, to, captured)
	return &dxp.Move{}, nil
}

func (f *fakeSender) SendGameEnd(ctx context.Context, reason, stopCode int) (*dxp.GameEnd, error) {
	f.record("end %d %d", reason, stopCode)
	return &dxp.GameEnd{}, nil
}

func (f *fakeSender) SendChat(ctx context.Context, text string) (*dxp.Chat, error) {
	f.record("chat %s", text)
	return &dxp.Chat{}, nil
}

func (f *fakeSender) SendBackRequest(ctx context.Context, moveNumber int, color string) (*dxp.BackRequest, error) {
	f.record("back %d %s", moveNumber, color)
	return &dxp.BackRequest{}, nil
}

func (f *fakeSender) SendBackAccept(ctx context.Context, code int) (*dxp.BackAcceptance, error) {
	f.record("backacc %d", code)
	return &dxp.BackAcceptance{}, nil
}

func (f *fakeSender) State() dxp.State {
	return dxp.AcceptSent
}

func newTestConsole(s sender) (*console, *bytes.Buffer) {
	var buf bytes.Buffer
	cfg := defaultConfig()
	cfg.Name = "tester"
	return &console{
		cfg:     cfg,
		out:     &printer{w: &buf},
		session: func() sender { return s },
	}, &buf
}

func TestConsole_Commands(t *testing.T) {
	fake := &fakeSender{}
	c, out := newTestConsole(fake)

	input := strings.Join([]string{
		"request",
		"accept 0",
		"move 12 5 14 9",
		"move 3 32 28",
		"",
		"chat good  luck",
		"back 4 w",
		"backacc 1",
		"end 1 0",
		"state",
		"quit",
		"chat never sent",
	}, "\n")

	require.NoError(t, c.run(context.Background(), strings.NewReader(input)))
	assert.Equal(t, []string{
		"request tester Z",
		"accept tester 0",
		"move 12 5 14 [9]",
		"move 3 32 28 []",
		"chat good  luck",
		"back 4 w",
		"backacc 1",
		"end 1 0",
	}, fake.calls)
	assert.Contains(t, out.String(), "state accept_sent")
}

func TestConsole_Errors(t *testing.T) {
	fake := &fakeSender{}
	c, _ := newTestConsole(fake)
	ctx := context.Background()

	for _, line := range []string{
		"move 1 2",
		"move a 2 3",
		"end 1",
		"accept",
		"back 1",
		"backacc x",
		"dance",
	} {
		assert.Error(t, c.exec(ctx, line), line)
	}
	assert.Empty(t, fake.calls)
	assert.ErrorIs(t, c.exec(ctx, "quit"), errQuit)
}

func TestConsole_NoPeer(t *testing.T) {
	c, _ := newTestConsole(nil)
	c.session = func() sender { return nil }

	assert.Error(t, c.exec(context.Background(), "chat hello"))
	assert.NoError(t, c.exec(context.Background(), "help"))
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		msg  dxp.Message
		want string
	}{
		{&dxp.GameRequest{InitiatorName: dxp.PadName("alice"), FollowerColor: dxp.Black,
			ThinkingTime: 999, MoveLimit: 40, StartingPosition: dxp.NormalPosition},
			"request from alice: follower Z, time 999, moves 40, start A"},
		{&dxp.GameAcceptance{FollowerName: dxp.PadName("bob"), AcceptanceCode: 1}, "accept from bob: code 1"},
		{&dxp.Move{Time: 12, From: 5, To: 14, Captured: []int{9, 10}}, "move 5-14 in 12s x9 x10"},
		{&dxp.GameEnd{Reason: 2, StopCode: 1}, "end: reason 2, stop 1"},
		{&dxp.BackRequest{MoveNumber: 3, ColorOnMove: dxp.White}, "back to move 3, W on move"},
		{&dxp.BackAcceptance{AcceptanceCode: 0}, "back accept: code 0"},
		{&dxp.Chat{Text: "gg"}, "chat: gg"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatMessage(tt.msg))
	}
}

func TestPrinter_Event(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: &buf}

	p.event(dxp.Event{Direction: dxp.Sent, Message: &dxp.Chat{Text: "hi"}})
	p.event(dxp.Event{Direction: dxp.Received, Message: &dxp.Chat{Text: "yo"}})

	assert.Equal(t, "> chat: hi\n< chat: yo\n", buf.String())
}
