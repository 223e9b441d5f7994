package cmd

import (
	"fmt"

	"github.com/cossteam/udpkit/pkg/portalloc"
	"github.com/urfave/cli/v2"
)

func init() {
	App.Commands = append(App.Commands, Port)
}

var Port = &cli.Command{
	Name:  "port",
	Usage: "find a free local port, or check one",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "proto",
			Usage: "udp or tcp",
			Value: string(portalloc.UDP),
		},
		&cli.IntFlag{
			Name:  "start",
			Usage: "first port to consider",
			Value: portalloc.MinPort,
		},
		&cli.IntFlag{
			Name:  "size",
			Usage: "number of ports to consider",
			Value: portalloc.MaxPort - portalloc.MinPort + 1,
		},
		&cli.IntFlag{
			Name:  "check",
			Usage: "report whether this port is free instead of searching",
		},
	},
	Action: runPort,
}

func runPort(ctx *cli.Context) error {
	proto := portalloc.Protocol(ctx.String("proto"))
	if proto != portalloc.UDP && proto != portalloc.TCP {
		return fmt.Errorf("unknown protocol %q", proto)
	}

	if ctx.IsSet("check") {
		port := ctx.Int("check")
		state := "in use"
		if portalloc.IsPortOpen(proto, port) {
			state = "free"
		}
		fmt.Fprintf(ctx.App.Writer, "%s/%d %s\n", proto, port, state)
		return nil
	}

	port, err := portalloc.NextAvailablePort(proto, ctx.Int("start"), ctx.Int("size"))
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, port)
	return nil
}
