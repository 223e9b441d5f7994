package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/cossteam/udpkit/config"
	"github.com/cossteam/udpkit/pkg/connector"
	"go.uber.org/zap"
)

// Handler reacts to a datagram accepted by a Connector.
type Handler interface {
	Name() string
	Handle(ctx context.Context, c *connector.Connector, msg *connector.Message) error
}

// LoadHandlers builds the handlers named in the configuration, in order.
// Unknown names are skipped with a warning.
func LoadHandlers(logger *zap.Logger, cfg *config.Config) ([]Handler, error) {
	var handlers []Handler
	for i := range cfg.Handlers {
		hc := &cfg.Handlers[i]
		hl := logger.With(zap.String("handler", hc.Name))
		switch hc.Name {
		case "log":
			var spec config.LogSpec
			if err := hc.LoadSpec(&spec); err != nil {
				return nil, fmt.Errorf("failed to decode log handler spec: %w", err)
			}
			handlers = append(handlers, NewLogHandler(hl, &spec))
		case "echo":
			handlers = append(handlers, NewEchoHandler(hl))
		case "forward":
			var spec config.ForwardSpec
			if err := hc.LoadSpec(&spec); err != nil {
				return nil, fmt.Errorf("failed to decode forward handler spec: %w", err)
			}
			h, err := NewForwardHandler(hl, &spec)
			if err != nil {
				return nil, err
			}
			handlers = append(handlers, h)
		default:
			logger.Warn("unknown handler", zap.String("handler", hc.Name))
		}
	}
	return handlers, nil
}

// Chain runs every handler for each message in order and joins their errors.
func Chain(ctx context.Context, logger *zap.Logger, handlers ...Handler) connector.Handler {
	return func(c *connector.Connector, msg *connector.Message) error {
		var errs []error
		for _, h := range handlers {
			if err := h.Handle(ctx, c, msg); err != nil {
				logger.Debug("handler failed", zap.String("handler", h.Name()), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
			}
		}
		return errors.Join(errs...)
	}
}
