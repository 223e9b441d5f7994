package plugin

import (
	"context"
	"fmt"

	"github.com/cossteam/udpkit/config"
	"github.com/cossteam/udpkit/pkg/connector"
	"github.com/cossteam/udpkit/pkg/transport/udp"
	"go.uber.org/zap"
)

// LogHandler logs every message it sees.
type LogHandler struct {
	logger *zap.Logger
	spec   *config.LogSpec
}

func NewLogHandler(logger *zap.Logger, spec *config.LogSpec) *LogHandler {
	return &LogHandler{logger: logger, spec: spec}
}

func (h *LogHandler) Name() string { return "log" }

func (h *LogHandler) Handle(_ context.Context, _ *connector.Connector, msg *connector.Message) error {
	fields := []zap.Field{
		zap.Stringer("remote", msg.Remote),
		zap.String("text", msg.Text),
	}
	if h.spec != nil && h.spec.Payload {
		fields = append(fields, zap.Binary("payload", msg.Payload))
	}
	h.logger.Info("received message", fields...)
	return nil
}

// EchoHandler sends the payload back to where it came from.
type EchoHandler struct {
	logger *zap.Logger
}

func NewEchoHandler(logger *zap.Logger) *EchoHandler {
	return &EchoHandler{logger: logger}
}

func (h *EchoHandler) Name() string { return "echo" }

func (h *EchoHandler) Handle(_ context.Context, c *connector.Connector, msg *connector.Message) error {
	if err := c.SendBytes(msg.Payload, msg.Remote); err != nil {
		return fmt.Errorf("failed to echo to %s: %w", msg.Remote, err)
	}
	h.logger.Debug("echoed message", zap.Stringer("remote", msg.Remote))
	return nil
}

// ForwardHandler resends every payload to a fixed target.
type ForwardHandler struct {
	logger *zap.Logger
	target *udp.Addr
}

func NewForwardHandler(logger *zap.Logger, spec *config.ForwardSpec) (*ForwardHandler, error) {
	target, err := udp.ResolveAddr(spec.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid forward target %q: %w", spec.Target, err)
	}
	return &ForwardHandler{logger: logger, target: target}, nil
}

func (h *ForwardHandler) Name() string { return "forward" }

func (h *ForwardHandler) Handle(_ context.Context, c *connector.Connector, msg *connector.Message) error {
	if err := c.SendBytes(msg.Payload, h.target); err != nil {
		return fmt.Errorf("failed to forward to %s: %w", h.target, err)
	}
	h.logger.Debug("forwarded message", zap.Stringer("remote", msg.Remote), zap.Stringer("target", h.target))
	return nil
}
