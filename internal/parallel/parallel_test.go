package parallel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scenesync/pkg/domain"
)

func TestSingle(t *testing.T) {
	c := Single()
	if c.Rank() != 0 || c.Size() != 1 {
		t.Fatalf("unexpected single coordinator %d/%d", c.Rank(), c.Size())
	}
	v, err := c.BroadcastInt(context.Background(), 7)
	if err != nil || v != 7 {
		t.Fatalf("broadcast: %d %v", v, err)
	}
	if err := c.Barrier(context.Background()); err != nil {
		t.Fatalf("barrier: %v", err)
	}
}

func TestNewLocalGroupValidation(t *testing.T) {
	if _, err := NewLocalGroup(0); err == nil {
		t.Fatalf("expected error for empty group")
	}
	g, err := NewLocalGroup(2)
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	if _, err := g.Member(2); err == nil {
		t.Fatalf("expected error for rank outside group")
	}
}

func TestRunBroadcastsRankZeroValue(t *testing.T) {
	const size = 4
	var (
		mu   sync.Mutex
		seen = map[int]int{}
	)
	err := Run(context.Background(), size, func(ctx context.Context, coord domain.Coordinator) error {
		for round := 0; round < 3; round++ {
			v, err := coord.BroadcastInt(ctx, 100*round+coord.Rank())
			if err != nil {
				return err
			}
			if v != 100*round {
				return errors.New("rank received a value other than rank 0's")
			}
		}
		if err := coord.Barrier(ctx); err != nil {
			return err
		}
		mu.Lock()
		seen[coord.Rank()]++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seen) != size {
		t.Fatalf("expected %d ranks to finish, got %v", size, seen)
	}
}

func TestRunCancelsWaitingRanksOnFailure(t *testing.T) {
	boom := errors.New("boom")
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), 3, func(ctx context.Context, coord domain.Coordinator) error {
			if coord.Rank() == 2 {
				return boom
			}
			return coord.Barrier(ctx)
		})
	}()
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ranks blocked after a failure")
	}
}
