package controller

import (
	"context"
	"fmt"

	"github.com/cossteam/udpkit/pkg/connector"
	"go.uber.org/zap"
)

var _ Runnable = &ListenService{}

// ListenService keeps a connector listening for the lifetime of its context
// and closes it afterwards.
type ListenService struct {
	logger    *zap.Logger
	connector *connector.Connector
}

func NewListenService(logger *zap.Logger, c *connector.Connector) *ListenService {
	return &ListenService{
		logger:    logger,
		connector: c,
	}
}

func (s *ListenService) Start(ctx context.Context) error {
	if err := s.connector.SetListening(true); err != nil {
		return fmt.Errorf("failed to start listen service: %w", err)
	}
	s.logger.Info("listen service started", zap.Stringer("addr", s.connector.ReceiveAddr()))

	<-ctx.Done()

	if err := s.connector.Close(); err != nil {
		s.logger.Warn("failed to close connector", zap.Error(err))
	}
	s.connector.Wait()
	s.logger.Info("listen service stopped")
	return nil
}
