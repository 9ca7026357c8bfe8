// Package parallel provides coordinators for sessions that write one scene
// from several ranks.
package parallel

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"scenesync/pkg/domain"
)

type single struct{}

// Single returns the coordinator of a job with one rank.
func Single() domain.Coordinator { return single{} }

func (single) Rank() int { return 0 }
func (single) Size() int { return 1 }

func (single) BroadcastInt(_ context.Context, value int) (int, error) { return value, nil }

func (single) Barrier(context.Context) error { return nil }

// LocalGroup coordinates ranks running as goroutines of one process.
type LocalGroup struct {
	size int

	mu      sync.Mutex
	arrived int
	release chan struct{}
	value   int
}

// NewLocalGroup builds a group of size ranks.
func NewLocalGroup(size int) (*LocalGroup, error) {
	if size < 1 {
		return nil, fmt.Errorf("local group size must be positive, got %d", size)
	}
	return &LocalGroup{size: size, release: make(chan struct{})}, nil
}

// Size returns the number of ranks.
func (g *LocalGroup) Size() int { return g.size }

// Member returns the coordinator view of rank.
func (g *LocalGroup) Member(rank int) (domain.Coordinator, error) {
	if rank < 0 || rank >= g.size {
		return nil, fmt.Errorf("rank %d outside group of %d", rank, g.size)
	}
	return member{group: g, rank: rank}, nil
}

// wait blocks until every rank arrived. The barrier is reusable.
func (g *LocalGroup) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.release
	g.arrived++
	if g.arrived == g.size {
		g.arrived = 0
		g.release = make(chan struct{})
		g.mu.Unlock()
		close(ch)
		return nil
	}
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type member struct {
	group *LocalGroup
	rank  int
}

func (m member) Rank() int { return m.rank }
func (m member) Size() int { return m.group.size }

// BroadcastInt hands rank 0's value to every rank.
func (m member) BroadcastInt(ctx context.Context, value int) (int, error) {
	g := m.group
	if m.rank == 0 {
		g.mu.Lock()
		g.value = value
		g.mu.Unlock()
	}
	if err := g.wait(ctx); err != nil {
		return 0, fmt.Errorf("broadcast: %w", err)
	}
	g.mu.Lock()
	out := g.value
	g.mu.Unlock()
	// nobody may overwrite the value before every rank has read it
	if err := g.wait(ctx); err != nil {
		return 0, fmt.Errorf("broadcast: %w", err)
	}
	return out, nil
}

func (m member) Barrier(ctx context.Context) error {
	if err := m.group.wait(ctx); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	return nil
}

// Run starts size ranks over a LocalGroup and waits for all of them. The
// first failing rank cancels the context of the others.
func Run(ctx context.Context, size int, fn func(ctx context.Context, coord domain.Coordinator) error) error {
	group, err := NewLocalGroup(size)
	if err != nil {
		return err
	}
	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		coord, err := group.Member(rank)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			if err := fn(ctx, coord); err != nil {
				return fmt.Errorf("rank %d: %w", coord.Rank(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}
