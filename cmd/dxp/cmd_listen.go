package main

import (
	"context"
	"net"
	"os"
	"sync"

	"github.com/Zereker/dxp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var commandListen = &cobra.Command{
	Use:   "listen [address]",
	Short: "Wait for initiators and play from stdin, one peer at a time",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := globalConfig.Address
		if len(args) == 1 {
			addr = args[0]
		}
		return listen(addr)
	},
}

func init() {
	mainCommand.AddCommand(commandListen)
}

// follower holds the single active peer of the listen command.
type follower struct {
	cfg Config
	out *printer

	mu      sync.Mutex
	current *dxp.Session
}

func (f *follower) session() sender {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil
	}
	return f.current
}

func (f *follower) Handle(conn *net.TCPConn) {
	var session *dxp.Session
	ready := make(chan struct{})

	onEvent := func(e dxp.Event) {
		f.out.event(e)
		if _, ok := e.Message.(*dxp.GameRequest); !ok || e.Direction != dxp.Received || !f.cfg.Game.AutoAccept {
			return
		}
		<-ready
		if _, err := session.SendGameAccept(context.Background(), f.cfg.Name, f.cfg.Game.AcceptanceCode); err != nil {
			f.out.Printf("error: %v", err)
		}
	}

	f.mu.Lock()
	if f.current != nil {
		f.mu.Unlock()
		zap.S().Infow("rejecting peer, already playing", "remote_addr", conn.RemoteAddr().String())
		_ = conn.Close()
		return
	}
	var err error
	session, err = dxp.Accept(conn, sessionOptions(f.out,
		dxp.RoleOption(dxp.Follower),
		dxp.OnEventOption(onEvent),
	)...)
	if err != nil {
		f.mu.Unlock()
		_ = conn.Close()
		zap.S().Errorw("accept failed", "error", err)
		return
	}
	f.current = session
	f.mu.Unlock()
	close(ready)

	f.out.Printf("peer %s connected", session.Addr())
	err = session.Wait()
	f.out.Printf("peer %s disconnected", session.Addr())
	zap.S().Infow("session finished", "session", session.ID(), "error", err)

	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()
}

func listen(addr string) error {
	ctx, cancel := signalContext()
	defer cancel()

	server, err := dxp.Listen(addr, dxp.ServerLoggerOption(dxp.NewZapLogger(zap.L())))
	if err != nil {
		return err
	}
	defer server.Close()

	out := &printer{w: os.Stdout}
	f := &follower{cfg: globalConfig, out: out}
	out.Printf("listening on %s", server.Addr())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ctx, f)
	}()

	c := &console{cfg: globalConfig, out: out, session: f.session}
	if err = c.run(ctx, os.Stdin); err != nil {
		return err
	}
	cancel()

	if s := f.session(); s != nil {
		_ = s.(*dxp.Session).Close()
	}
	if err = <-serveErr; err != nil && err != context.Canceled {
		return err
	}
	return nil
}
