package main

import (
	"os"

	"github.com/Zereker/dxp"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var commandConnectFlagNoRequest bool

var commandConnect = &cobra.Command{
	Use:   "connect [address]",
	Short: "Dial a follower, offer a game and play from stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := globalConfig.Address
		if len(args) == 1 {
			addr = args[0]
		}
		return connect(addr)
	},
}

func init() {
	commandConnect.Flags().BoolVar(&commandConnectFlagNoRequest, "no-request", false, "do not send the game request after connecting")
	mainCommand.AddCommand(commandConnect)
}

func connect(addr string) error {
	ctx, cancel := signalContext()
	defer cancel()

	out := &printer{w: os.Stdout}
	session, err := dxp.NewSession(addr, sessionOptions(out,
		dxp.RoleOption(dxp.Initiator),
		dxp.OnEventOption(out.event),
	)...)
	if err != nil {
		return err
	}
	if err = session.Connect(ctx); err != nil {
		return err
	}
	defer session.Close()
	zap.S().Infow("connected", "addr", session.Addr(), "session", session.ID())

	if !commandConnectFlagNoRequest {
		if _, err = session.SendGameRequest(ctx, globalConfig.Game.params(globalConfig.Name)); err != nil {
			return errors.Wrap(err, "game request")
		}
	}

	go func() {
		<-session.Done()
		cancel()
	}()

	c := &console{
		cfg:     globalConfig,
		out:     out,
		session: func() sender { return session },
	}
	if err = c.run(ctx, os.Stdin); err != nil {
		return err
	}

	select {
	case <-session.Done():
		if err := session.Wait(); err != nil && !errors.Is(err, dxp.ErrConnectionClosed) {
			return err
		}
		out.Printf("peer disconnected")
	default:
	}
	return nil
}
