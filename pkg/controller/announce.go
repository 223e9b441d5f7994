package controller

import (
	"context"
	"time"

	"go.uber.org/zap"
)

var _ Runnable = &AnnounceService{}

// Announcer sends one broadcast. broadcast.Broadcaster satisfies it.
type Announcer interface {
	BroadcastString(port int, message string) error
}

// AnnounceService broadcasts the same message on a fixed interval. A failed
// round is logged and the next one still runs.
type AnnounceService struct {
	logger    *zap.Logger
	announcer Announcer
	port      int
	message   string
	interval  time.Duration
}

func NewAnnounceService(logger *zap.Logger, announcer Announcer, port int, message string, interval time.Duration) *AnnounceService {
	return &AnnounceService{
		logger:    logger,
		announcer: announcer,
		port:      port,
		message:   message,
		interval:  interval,
	}
}

func (s *AnnounceService) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.announce()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.announce()
		}
	}
}

func (s *AnnounceService) announce() {
	if err := s.announcer.BroadcastString(s.port, s.message); err != nil {
		s.logger.Warn("announce failed", zap.Int("port", s.port), zap.Error(err))
		return
	}
	s.logger.Debug("announced", zap.Int("port", s.port), zap.String("message", s.message))
}
