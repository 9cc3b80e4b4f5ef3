package engine

import (
	"context"
	"sync"
)

type outcome struct {
	summary map[string]any
	err     error
}

// background runs blocking work in a goroutine. The poll loop reads its single outcome
// through a channel without blocking.
type background struct {
	mutex   sync.Mutex
	cancel  context.CancelFunc
	done    chan outcome
	outcome *outcome
}

func (b *background) start(ctx context.Context, work func(ctx context.Context) (map[string]any, error)) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan outcome, 1)

	go func() {
		summary, err := work(ctx)
		b.done <- outcome{summary: summary, err: err}
	}()
}

func (b *background) status() Status {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.outcome == nil {
		if b.done == nil {
			return StatusPending
		}
		select {
		case o := <-b.done:
			b.outcome = &o
			b.cancel()
		default:
			return StatusPending
		}
	}
	if b.outcome.err != nil {
		return StatusFailed
	}
	return StatusSuccessful
}

func (b *background) err() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.outcome == nil {
		return nil
	}
	return b.outcome.err
}

func (b *background) summary() map[string]any {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.outcome == nil {
		return nil
	}
	summary := b.outcome.summary
	if b.outcome.err != nil {
		summary = map[string]any{"error": b.outcome.err.Error()}
	}
	return summary
}

func (b *background) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
}
