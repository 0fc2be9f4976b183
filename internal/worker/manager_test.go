package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestManagerDoRunsJob(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4})
	defer manager.Close()

	ran := false
	if err := manager.Do(context.Background(), 1, func() { ran = true }); err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if !ran {
		t.Fatalf("job did not run")
	}
}

func TestDispatcherJobOrder(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 10})
	defer manager.Close()

	var mu sync.Mutex
	order := make([]string, 0, 3)
	var wg sync.WaitGroup
	for _, label := range []string{"first", "second", "third"} {
		label := label
		wg.Add(1)
		if err := manager.Go(11, func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Go(%s): %v", label, err)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("expected execution order [first second third], got %v", order)
	}
}

func TestManagerHighLoadAllowsOtherOwners(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 1, MaxWorkers: 3, QueueSize: 10})
	defer manager.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	slowDone := make(chan error, 1)
	go func() {
		slowDone <- manager.Do(context.Background(), 1, func() {
			close(started)
			<-block
		})
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("slow job did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := manager.Do(ctx, 2, func() {}); err != nil {
		t.Fatalf("fast job blocked but should complete: %v", err)
	}

	close(block)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow job error: %v", err)
	}

	var wg sync.WaitGroup
	for owner := int64(3); owner <= 15; owner++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := manager.Do(ctx, id, func() {}); err != nil && !errors.Is(err, ErrDispatcherBusy) {
				t.Errorf("owner %d: %v", id, err)
			}
		}(owner)
	}
	wg.Wait()
}

func TestManagerDoHonoursContext(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer manager.Close()

	release := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := manager.Do(ctx, 5, func() { <-release })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(release)
}

func TestDispatcherBusyWhenQueueFull(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	defer manager.Close()

	block := make(chan struct{})
	var wg sync.WaitGroup
	accepted := 0
	busy := false
	for i := 0; i < 20 && !busy; i++ {
		wg.Add(1)
		err := manager.Go(9, func() {
			defer wg.Done()
			<-block
		})
		switch {
		case errors.Is(err, ErrDispatcherBusy):
			wg.Done()
			busy = true
		case err != nil:
			t.Fatalf("unexpected error: %v", err)
		default:
			accepted++
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !busy {
		t.Fatalf("expected ErrDispatcherBusy with a saturated pool")
	}
	close(block)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%d accepted jobs did not finish", accepted)
	}
}
