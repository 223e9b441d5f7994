package cmd

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/cossteam/udpkit/config"
	"github.com/cossteam/udpkit/pkg/broadcast"
	"github.com/cossteam/udpkit/pkg/connector"
	"github.com/cossteam/udpkit/pkg/controller"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func init() {
	App.Commands = append(App.Commands, Broadcast, Announce)
}

func broadcastFlags(flags ...cli.Flag) []cli.Flag {
	return commonFlags(append([]cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "destination port",
		},
		&cli.StringSliceFlag{
			Name:  "target",
			Usage: "broadcast address, repeatable (default 255.255.255.255)",
		},
		&cli.BoolFlag{
			Name:  "subnet",
			Usage: "send to every local subnet's directed broadcast address",
		},
		&cli.StringFlag{
			Name:  "encoding",
			Usage: "charset used to encode the message",
		},
	}, flags...)...)
}

var Broadcast = &cli.Command{
	Name:      "broadcast",
	Usage:     "broadcast one datagram",
	ArgsUsage: "MESSAGE...",
	Flags:     broadcastFlags(),
	Action:    runBroadcast,
}

var Announce = &cli.Command{
	Name:      "announce",
	Usage:     "broadcast a message on an interval until interrupted",
	ArgsUsage: "[MESSAGE...]",
	Flags: broadcastFlags(
		&cli.DurationFlag{
			Name:    "interval",
			Aliases: []string{"i"},
			Usage:   "time between announcements",
		},
	),
	Action: runAnnounce,
}

func newBroadcaster(logger *zap.Logger, cfg *config.Config) (*broadcast.Broadcaster, error) {
	enc, err := connector.LookupEncoding(cfg.Connector.Encoding)
	if err != nil {
		return nil, err
	}

	opts := []broadcast.Option{broadcast.WithEncoding(enc)}
	if cfg.Broadcast.Subnet {
		opts = append(opts, broadcast.WithSubnetTargets())
	}
	if len(cfg.Broadcast.Targets) > 0 {
		ips := make([]net.IP, 0, len(cfg.Broadcast.Targets))
		for _, t := range cfg.Broadcast.Targets {
			ips = append(ips, net.ParseIP(t))
		}
		opts = append(opts, broadcast.WithTargets(ips...))
	}
	return broadcast.New(logger.With(zap.String("component", "broadcast")), opts...), nil
}

func runBroadcast(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("no message given")
	}

	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}

	b, err := newBroadcaster(logger, cfg)
	if err != nil {
		return err
	}

	message := strings.Join(ctx.Args().Slice(), " ")
	if err = b.BroadcastString(cfg.Broadcast.Port, message); err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "broadcast %d bytes to %d target(s) on port %d\n", len(message), len(b.Targets()), cfg.Broadcast.Port)
	return nil
}

func runAnnounce(ctx *cli.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	if ctx.IsSet("interval") {
		cfg.Announce.Interval = ctx.Duration("interval")
		if err = cfg.Validate(); err != nil {
			return err
		}
	}

	message := strings.Join(ctx.Args().Slice(), " ")
	if message == "" {
		message = cfg.Announce.Message
	}
	if message == "" {
		message = uuid.NewString()
	}

	b, err := newBroadcaster(logger, cfg)
	if err != nil {
		return err
	}

	logger.Info("announcing",
		zap.String("message", message),
		zap.Int("port", cfg.Broadcast.Port),
		zap.Duration("interval", cfg.Announce.Interval),
	)
	svc := controller.NewAnnounceService(logger, b, cfg.Broadcast.Port, message, cfg.Announce.Interval)
	return controller.NewManager(logger, svc).Start(SetupSignalHandler())
}
