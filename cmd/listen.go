package cmd

import (
	"github.com/cossteam/udpkit/pkg/controller"
	"github.com/cossteam/udpkit/pkg/plugin"
	"github.com/cossteam/udpkit/pkg/utils"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func init() {
	App.Commands = append(App.Commands, Listen)
}

var Listen = &cli.Command{
	Name:  "listen",
	Usage: "receive datagrams and run the configured handlers on each",
	Flags: commonFlags(
		&cli.StringFlag{
			Name:  "addr",
			Usage: "receive address; a free port from 1025 is used when empty",
		},
		&cli.StringFlag{
			Name:  "encoding",
			Usage: "charset used to decode payloads",
		},
	),
	Action: runListen,
}

func runListen(ctx *cli.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}

	c, err := newConnector(logger, cfg.Connector)
	if err != nil {
		return err
	}

	handlers, err := plugin.LoadHandlers(logger, cfg)
	if err != nil {
		return err
	}

	if ip, err := utils.LocalIP(); err == nil {
		logger.Info("host address for peers", zap.Stringer("ip", ip))
	} else {
		logger.Debug("failed to determine host address", zap.Error(err))
	}

	sigCtx := SetupSignalHandler()
	c.SetHandler(plugin.Chain(sigCtx, logger, handlers...))

	mgr := controller.NewManager(logger, controller.NewListenService(logger, c))
	return mgr.Start(sigCtx)
}
