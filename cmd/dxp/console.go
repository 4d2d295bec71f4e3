package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/Zereker/dxp"
	"github.com/pkg/errors"
)

var errQuit = errors.New("quit")

const consoleHelp = `commands:
  request                 send the configured game request
  accept <code>           answer a game request (0 accepts)
  move <time> <from> <to> [captured...]
  end <reason> <stop>     end the game
  back <move> <color>     ask to take back moves
  backacc <code>          answer a take-back request (0 accepts)
  chat <text>             send a chat line
  state                   print the protocol state
  quit`

// sender is the part of *dxp.Session the console drives.
type sender interface {
	SendGameRequest(ctx context.Context, p dxp.GameRequestParams) (*dxp.GameRequest, error)
	SendGameAccept(ctx context.Context, followerName string, code int) (*dxp.GameAcceptance, error)
	SendMove(ctx context.Context, elapsed, from, to int, captured ...int) (*dxp.Move, error)
	SendGameEnd(ctx context.Context, reason, stopCode int) (*dxp.GameEnd, error)
	SendChat(ctx context.Context, text string) (*dxp.Chat, error)
	SendBackRequest(ctx context.Context, moveNumber int, colorOnMove string) (*dxp.BackRequest, error)
	SendBackAccept(ctx context.Context, code int) (*dxp.BackAcceptance, error)
	State() dxp.State
}

// printer serializes output from the console and the event handler.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) event(e dxp.Event) {
	arrow := "<"
	if e.Direction == dxp.Sent {
		arrow = ">"
	}
	p.Printf("%s %s", arrow, formatMessage(e.Message))
}

func formatMessage(m dxp.Message) string {
	switch m := m.(type) {
	case *dxp.GameRequest:
		s := fmt.Sprintf("request from %s: follower %s, time %d, moves %d, start %c",
			displayName(m.InitiatorName), m.FollowerColor, m.ThinkingTime, m.MoveLimit, m.StartingPosition)
		if m.StartingPosition == dxp.CustomPosition {
			s += fmt.Sprintf(" %s %s", m.ColorToMoveFirst, m.Position)
		}
		return s
	case *dxp.GameAcceptance:
		return fmt.Sprintf("accept from %s: code %d", displayName(m.FollowerName), m.AcceptanceCode)
	case *dxp.Move:
		s := fmt.Sprintf("move %d-%d in %ds", m.From, m.To, m.Time)
		for _, sq := range m.Captured {
			s += fmt.Sprintf(" x%d", sq)
		}
		return s
	case *dxp.GameEnd:
		return fmt.Sprintf("end: reason %d, stop %d", m.Reason, m.StopCode)
	case *dxp.BackRequest:
		return fmt.Sprintf("back to move %d, %s on move", m.MoveNumber, m.ColorOnMove)
	case *dxp.BackAcceptance:
		return fmt.Sprintf("back accept: code %d", m.AcceptanceCode)
	case *dxp.Chat:
		return "chat: " + m.Text
	default:
		return fmt.Sprintf("%v", m)
	}
}

func displayName(name string) string {
	return strings.TrimRight(name, "0")
}

// console turns input lines into session calls.
type console struct {
	cfg     Config
	out     *printer
	session func() sender
}

// run executes lines from in until quit, end of input or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.out.Printf("error: %v", err)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	args := strings.Fields(rest)

	switch verb {
	case "":
		return nil
	case "quit", "exit":
		return errQuit
	case "help":
		c.out.Printf("%s", consoleHelp)
		return nil
	}

	s := c.session()
	if s == nil {
		return errors.New("no peer connected")
	}

	switch verb {
	case "state":
		c.out.Printf("state %s", s.State())
		return nil
	case "request":
		_, err := s.SendGameRequest(ctx, c.cfg.Game.params(c.cfg.Name))
		return err
	case "accept":
		code, err := intArgs(args, 1)
		if err != nil {
			return err
		}
		_, err = s.SendGameAccept(ctx, c.cfg.Name, code[0])
		return err
	case "move":
		if len(args) < 3 {
			return errors.New("usage: move <time> <from> <to> [captured...]")
		}
		n, err := intArgs(args, len(args))
		if err != nil {
			return err
		}
		_, err = s.SendMove(ctx, n[0], n[1], n[2], n[3:]...)
		return err
	case "end":
		n, err := intArgs(args, 2)
		if err != nil {
			return err
		}
		_, err = s.SendGameEnd(ctx, n[0], n[1])
		return err
	case "back":
		if len(args) != 2 {
			return errors.New("usage: back <move> <color>")
		}
		n, err := intArgs(args[:1], 1)
		if err != nil {
			return err
		}
		_, err = s.SendBackRequest(ctx, n[0], args[1])
		return err
	case "backacc":
		code, err := intArgs(args, 1)
		if err != nil {
			return err
		}
		_, err = s.SendBackAccept(ctx, code[0])
		return err
	case "chat":
		_, err := s.SendChat(ctx, rest)
		return err
	default:
		return errors.Errorf("unknown command %q, try help", verb)
	}
}

func intArgs(args []string, want int) ([]int, error) {
	if len(args) != want {
		return nil, errors.Errorf("want %d numbers, got %d", want, len(args))
	}
	n := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, errors.Errorf("%q is not a number", a)
		}
		n[i] = v
	}
	return n, nil
}
