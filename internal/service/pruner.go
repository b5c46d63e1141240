package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPruneInterval is how often expired sessions are swept.
const DefaultPruneInterval = 15 * time.Minute

// pruneTimeout bounds a single sweep.
const pruneTimeout = 30 * time.Second

// sessionPruner is the part of SessionService the pruner needs.
type sessionPruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// SessionPruner periodically deletes expired sessions.
//
// Expired sessions are already rejected on read, so pruning is only about
// keeping the table small. It is the one background goroutine of the
// server: Start launches it, Stop signals it and waits for it to exit.
type SessionPruner struct {
	sessions  sessionPruner
	interval  time.Duration
	logger    *slog.Logger
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSessionPruner creates a pruner. An interval of zero means
// DefaultPruneInterval.
func NewSessionPruner(sessions sessionPruner, interval time.Duration, logger *slog.Logger) *SessionPruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &SessionPruner{
		sessions: sessions,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs an initial sweep and then one per interval, in the background.
// Calling Start more than once has no effect.
func (p *SessionPruner) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting session pruner", slog.Duration("interval", p.interval))
		p.wg.Add(1)
		go p.run()
	})
}

// Stop shuts the pruner down and waits for an in-flight sweep to finish.
func (p *SessionPruner) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping session pruner")
		close(p.done)
	})
	p.wg.Wait()
}

func (p *SessionPruner) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sweep()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *SessionPruner) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	n, err := p.sessions.PruneExpired(ctx)
	if err != nil {
		p.logger.Error("pruning expired sessions failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		p.logger.Info("pruned expired sessions", slog.Int64("count", n))
	}
}
