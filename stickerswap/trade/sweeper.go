package trade

import (
	"context"
	"log/slog"
	"time"

	"github.com/swapdesk/stickerswap/stickerswap/events"
)

// Sweeper bounds queue growth and enforces mailbox expiry: stale matching
// sessions go to cancelled, past-expiry mailbox sessions go to expired.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.engine.SweepOnce(ctx)
				cancel()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Sweeper) Shutdown() {
	close(s.stop)
	<-s.done
}

// SweepOnce runs both sweeps and echoes the resulting terminal transitions
// to any subscribed clients.
func (e *Engine) SweepOnce(ctx context.Context) {
	now := time.Now()

	cancelled, err := e.sessions.SweepStaleMatching(ctx, now.Add(-e.cfg.MatchingTTL))
	if err != nil {
		slog.Error("Failed to sweep stale matching sessions",
			slog.String("error", err.Error()))
	}
	for _, sessionID := range cancelled {
		if session, err := e.sessions.Session(ctx, sessionID); err == nil {
			e.hub.Publish(ctx, sessionID, events.ChangeEvent{
				SessionID: sessionID,
				Kind:      events.KindCancelled,
				UpdatedAt: session.UpdatedAt,
				Session:   session,
			})
		}
	}

	expired, err := e.sessions.SweepExpired(ctx, now)
	if err != nil {
		slog.Error("Failed to sweep expired sessions",
			slog.String("error", err.Error()))
	}
	for _, sessionID := range expired {
		if session, err := e.sessions.Session(ctx, sessionID); err == nil {
			e.hub.Publish(ctx, sessionID, events.ChangeEvent{
				SessionID: sessionID,
				Kind:      events.KindExpired,
				UpdatedAt: session.UpdatedAt,
				Session:   session,
			})
		}
	}

	if len(cancelled) > 0 || len(expired) > 0 {
		slog.Info("Session sweep complete",
			slog.Int("cancelled_matching", len(cancelled)),
			slog.Int("expired_mailbox", len(expired)))
	}
}
