package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cossteam/udpkit/config"
	"github.com/cossteam/udpkit/pkg/connector"
	"github.com/cossteam/udpkit/pkg/log"
	"github.com/cossteam/udpkit/pkg/transport/udp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var App = &cli.App{
	Name:     "udpkit",
	Usage:    "send, receive and broadcast UDP datagrams",
	Version:  "0.1.0",
	Commands: []*cli.Command{},
}

var onlyOneSignalHandler = make(chan struct{})

// SetupSignalHandler registers for SIGTERM and SIGINT. A context is returned
// which is canceled on one of these signals. If a second signal is caught, the program
// is terminated with exit code 1.
func SetupSignalHandler() context.Context {
	close(onlyOneSignalHandler) // panics when called twice

	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 2)
	signal.Notify(c, shutdownSignals...)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1) // second signal. Exit directly.
	}()

	return ctx
}

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT}

func commonFlags(flags ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "config file path",
			Value:   "",
		},
		&cli.StringFlag{
			Name:    "loglevel",
			Aliases: []string{"ll"},
			Usage:   "log level (debug info warn error dpanic panic fatal)",
		},
	}, flags...)
}

func applyConfig(ctx *cli.Context) (cfg *config.Config, err error) {
	cfg = config.Default()
	if ctx.String("config") != "" {
		cfg, err = config.Load(ctx.String("config"))
		if err != nil {
			return nil, err
		}
	}

	// Apply command line flags, overriding configuration file values
	if logLevel := ctx.String("loglevel"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if addr := ctx.String("addr"); addr != "" {
		cfg.Connector.ReceiveAddr = addr
	}
	if from := ctx.String("from"); from != "" {
		cfg.Connector.SendAddr = from
	}
	if enc := ctx.String("encoding"); enc != "" {
		cfg.Connector.Encoding = enc
	}
	if ctx.IsSet("port") {
		cfg.Broadcast.Port = ctx.Int("port")
	}
	if targets := ctx.StringSlice("target"); len(targets) > 0 {
		cfg.Broadcast.Targets = targets
	}
	if ctx.Bool("subnet") {
		cfg.Broadcast.Subnet = true
	}
	if stunServer := ctx.String("stunServer"); stunServer != "" {
		cfg.StunServer = stunServer
	}

	return cfg, cfg.Validate()
}

func setup(ctx *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := applyConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	logger, err := log.SetupLogger(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newConnector builds a connector from the connector section of the config.
func newConnector(logger *zap.Logger, c config.Connector) (*connector.Connector, error) {
	enc, err := connector.LookupEncoding(c.Encoding)
	if err != nil {
		return nil, err
	}

	opts := []connector.Option{
		connector.WithEncoding(enc),
		connector.WithMaxInflight(c.MaxInflight),
		connector.WithReceiveTimeout(c.ReceiveTimeout),
	}
	if c.SendAddr != "" {
		addr, err := udp.ResolveAddr(c.SendAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid send address: %w", err)
		}
		opts = append(opts, connector.WithSendAddr(addr))
	}
	if c.ReceiveAddr != "" {
		addr, err := udp.ResolveAddr(c.ReceiveAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid receive address: %w", err)
		}
		opts = append(opts, connector.WithReceiveAddr(addr))
	}
	if c.ReadBuffer > 0 {
		opts = append(opts, connector.WithReadBuffer(c.ReadBuffer))
	}
	if c.ReuseAddr {
		opts = append(opts, connector.WithReuseAddr())
	}

	return connector.New(logger.With(zap.String("component", "connector")), opts...), nil
}
