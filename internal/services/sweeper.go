package services

import (
	"context"
	"errors"
	"time"

	"github.com/decred/slog"

	"rugmania-backend/internal/chain"
)

// SessionSweeper cleans the pending-session index. Entries whose key has
// expired are dropped; sessions older than the grace period are deleted
// once the contract no longer has an active round for that player.
type SessionSweeper struct {
	redis *RedisService
	chain chain.Reader
	grace time.Duration
	batch int64
	log   slog.Logger
}

func NewSessionSweeper(redis *RedisService, reader chain.Reader, grace time.Duration, log slog.Logger) *SessionSweeper {
	if log == nil {
		log = slog.Disabled
	}
	return &SessionSweeper{redis: redis, chain: reader, grace: grace, batch: 200, log: log}
}

// WithBatch sets how many index entries are read per page.
func (s *SessionSweeper) WithBatch(n int64) *SessionSweeper {
	if n > 0 {
		s.batch = n
	}
	return s
}

// Sweep walks the whole stale part of the index, a page at a time, and
// reports how many entries it removed. Entries it keeps are paged past,
// so they never hide newer ones.
func (s *SessionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.grace)

	removed := 0
	var offset int64
	for {
		addrs, err := s.redis.PendingSessionsBefore(ctx, cutoff, offset, s.batch)
		if err != nil {
			return removed, err
		}

		for _, addr := range addrs {
			gone, err := s.sweepOne(ctx, addr)
			if err != nil {
				return removed, err
			}
			if gone {
				removed++
			} else {
				offset++
			}
		}

		if int64(len(addrs)) < s.batch {
			break
		}
	}

	if removed > 0 {
		s.log.Infof("Swept %d stale sessions", removed)
	}
	return removed, nil
}

// sweepOne reports whether addr left the index.
func (s *SessionSweeper) sweepOne(ctx context.Context, addr string) (bool, error) {
	_, err := s.redis.GetGameSession(ctx, addr)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		if err := s.redis.UnindexSession(ctx, addr); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	if s.chain == nil {
		return false, nil
	}
	game, err := s.chain.GetGame(ctx, addr)
	if err != nil {
		s.log.Debugf("Skipping %s, chain read failed: %v", addr, err)
		return false, nil
	}
	if game.IsActive {
		return false, nil
	}
	if _, err := s.redis.DeleteGameSession(ctx, addr); err != nil {
		return false, err
	}
	return true, nil
}

// Run sweeps on every tick until ctx is done.
func (s *SessionSweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Warnf("Session sweep failed: %v", err)
			}
		}
	}
}
