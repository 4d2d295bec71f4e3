package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Zereker/dxp"
	"go.uber.org/zap"
)

// Server accepts every game request and echoes chat back to the peer.
type Server struct {
	sync.RWMutex
	sessions map[string]*dxp.Session
}

func newHandler() *Server {
	return &Server{sessions: make(map[string]*dxp.Session)}
}

func (s *Server) Handle(conn *net.TCPConn) {
	var session *dxp.Session
	ready := make(chan struct{})

	errorOption := dxp.OnErrorOption(func(err error) dxp.ErrorAction {
		zap.S().Errorw("session error", "error", err)
		return dxp.Disconnect
	})

	eventOption := dxp.OnEventOption(func(e dxp.Event) {
		if e.Direction != dxp.Received {
			return
		}
		<-ready

		switch m := e.Message.(type) {
		case *dxp.GameRequest:
			if _, err := session.SendGameAccept(context.Background(), "echo", 0); err != nil {
				zap.S().Warnw("accept failed", "error", err)
			}
		case *dxp.Chat:
			if _, err := session.SendChat(context.Background(), m.Text); err != nil {
				zap.S().Warnw("chat failed", "error", err)
			}
		}
	})

	var err error
	session, err = dxp.Accept(conn, dxp.RoleOption(dxp.Follower), errorOption, eventOption)
	if err != nil {
		panic(err)
	}
	close(ready)

	id := session.ID()
	s.addSession(id, session)

	zap.S().Infow("add new session", "session", id, "addr", session.Addr(), "sessions", s.count())

	_ = session.Wait()
	s.deleteSession(id)
}

func (s *Server) addSession(id string, session *dxp.Session) {
	s.Lock()
	defer s.Unlock()

	s.sessions[id] = session
}

func (s *Server) deleteSession(id string) {
	s.Lock()
	defer s.Unlock()

	delete(s.sessions, id)
}

func (s *Server) count() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.sessions)
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	server, err := dxp.Listen("127.0.0.1")
	if err != nil {
		zap.S().Errorw("failed to create server", "error", err)
		return
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		zap.S().Info("shutting down server...")
		cancel()
	}()

	zap.S().Infow("server start", "addr", server.Addr().String())
	if err := server.Serve(ctx, newHandler()); err != nil && err != context.Canceled {
		zap.S().Errorw("server error", "error", err)
	}
}
