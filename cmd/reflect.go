package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/cossteam/udpkit/pkg/controller"
	"github.com/cossteam/udpkit/pkg/reflector"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func init() {
	App.Commands = append(App.Commands, Reflect, Reflector)
}

const defaultStunServer = "stun:stun.l.google.com:19302"

var Reflect = &cli.Command{
	Name:  "reflect",
	Usage: "print the public endpoint of the send socket as seen by a STUN server",
	Flags: commonFlags(
		&cli.StringFlag{
			Name:    "stunServer",
			Aliases: []string{"ss"},
			Usage:   "stun URI or host:port (default " + defaultStunServer + ")",
		},
		&cli.StringFlag{
			Name:  "from",
			Usage: "local send address",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "give up after this long",
			Value: 5 * time.Second,
		},
	),
	Action: runReflect,
}

var Reflector = &cli.Command{
	Name:  "reflector",
	Usage: "answer STUN binding requests",
	Flags: commonFlags(
		&cli.StringFlag{
			Name:  "listen",
			Usage: "listen address (default 0.0.0.0:3478)",
		},
	),
	Action: runReflector,
}

func runReflect(ctx *cli.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	if cfg.StunServer == "" {
		cfg.StunServer = defaultStunServer
	}

	c, err := newConnector(logger, cfg.Connector)
	if err != nil {
		return err
	}
	defer c.Close()

	tctx, cancel := context.WithTimeout(ctx.Context, ctx.Duration("timeout"))
	defer cancel()

	addr, err := c.ReflexiveAddr(tctx, cfg.StunServer)
	if err != nil {
		return err
	}
	logger.Debug("reflexive address", zap.Stringer("local", c.SendAddr()), zap.Stringer("public", addr))
	fmt.Fprintln(ctx.App.Writer, addr)
	return nil
}

func runReflector(ctx *cli.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	if addr := ctx.String("listen"); addr != "" {
		cfg.Reflector.Addr = addr
	}

	srv := reflector.New(logger.With(zap.String("component", "reflector")), cfg.Reflector.Addr)
	return controller.NewManager(logger, srv).Start(SetupSignalHandler())
}
