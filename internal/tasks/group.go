// Package tasks runs fire-and-forget background work with a concurrency cap
// and an explicit join at shutdown.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

const DefaultLimit = 64

var ErrClosed = errors.New("tasks: group is shut down")

// Group is a bounded set of background tasks.
//
// Tasks receive a context that is detached from the caller's request but
// cancelled once Shutdown gives up waiting.
type Group struct {
	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
}

func New(limit int, log *slog.Logger) *Group {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if log == nil {
		log = slog.Default()
	}
	eg := &errgroup.Group{}
	eg.SetLimit(limit)
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{eg: eg, ctx: ctx, cancel: cancel, log: log}
}

// Go schedules fn. It returns false when the group is saturated or shut down;
// the task is dropped and logged in that case.
func (g *Group) Go(name string, fn func(ctx context.Context)) bool {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		g.log.Warn("background task dropped", "task", name, "err", ErrClosed)
		return false
	}

	ok := g.eg.TryGo(func() error {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		fn(g.ctx)
		return nil
	})
	if !ok {
		g.log.Warn("background task dropped", "task", name, "reason", "saturated")
	}
	return ok
}

// Shutdown stops accepting work and waits for in-flight tasks. When ctx
// expires first, running tasks see their context cancelled and ctx.Err() is
// returned.
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = g.eg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		return ctx.Err()
	}
}
