package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aregchatalyan/motor/internal/repository"
)

// Sweeper periodically deletes expired token rows of every type. It is a
// hygiene job: correctness never depends on it, because every lookup also
// checks expires_at.
type Sweeper struct {
	tokens   repository.TokenRepository
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(tokens repository.TokenRepository, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		tokens:   tokens,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval. Sweep
// failures are logged and retried on the next tick, never fatal.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("token sweeper started",
		slog.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("token sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.tokens.DeleteExpired(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "token sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.InfoContext(ctx, "token sweep completed",
		slog.Int64("deleted", deleted),
	)
}
