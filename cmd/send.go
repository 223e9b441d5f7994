package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cossteam/udpkit/pkg/transport/udp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func init() {
	App.Commands = append(App.Commands, Send)
}

var Send = &cli.Command{
	Name:      "send",
	Usage:     "send one datagram",
	ArgsUsage: "MESSAGE...",
	Flags: commonFlags(
		&cli.StringFlag{
			Name:     "to",
			Usage:    "destination host:port",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "from",
			Usage: "local send address",
		},
		&cli.StringFlag{
			Name:  "encoding",
			Usage: "charset used to encode the message",
		},
	),
	Action: runSend,
}

func runSend(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("no message given")
	}

	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}

	dst, err := udp.ResolveAddr(ctx.String("to"))
	if err != nil {
		return err
	}

	c, err := newConnector(logger, cfg.Connector)
	if err != nil {
		return err
	}
	defer c.Close()

	message := strings.Join(ctx.Args().Slice(), " ")
	if err = c.Send(message, dst); err != nil {
		return err
	}

	logger.Debug("sent", zap.Stringer("from", c.SendAddr()), zap.Stringer("to", dst))
	fmt.Fprintf(ctx.App.Writer, "sent %d bytes to %s\n", len(message), dst)
	return nil
}
