package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valpere/llmjudger/internal"
)

func configs(pairs ...any) []internal.ModelConfig {
	var out []internal.ModelConfig
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, internal.ModelConfig{Name: pairs[i].(string), Instances: pairs[i+1].(int)})
	}
	return out
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		configs []internal.ModelConfig
		max     int
	}{
		{"no models", nil, 4},
		{"zero max", configs("a", 1), 0},
		{"zero instances", configs("a", 0), 4},
		{"empty name", configs("", 1), 4},
		{"duplicate", configs("a", 1, "a", 2), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.configs, tt.max)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestAcquire_UnknownModel(t *testing.T) {
	p, err := New(configs("a", 1), 1)
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Acquire(context.Background(), "b")
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if ce.Model != "b" {
		t.Errorf("expected model 'b', got %q", ce.Model)
	}
}

func TestLease_ReleaseIdempotent(t *testing.T) {
	p, err := New(configs("a", 1), 2)
	if err != nil {
		t.Fatal(err)
	}

	lease, err := p.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if p.InFlight("a") != 1 || p.InFlightTotal() != 1 {
		t.Fatalf("expected 1 in flight, got %d/%d", p.InFlight("a"), p.InFlightTotal())
	}

	lease.Release()
	lease.Release()

	if p.InFlight("a") != 0 || p.InFlightTotal() != 0 {
		t.Fatalf("expected 0 in flight, got %d/%d", p.InFlight("a"), p.InFlightTotal())
	}

	// A second acquire must still succeed and a third must block.
	l2, err := p.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAcquire_CancelledWaiterHoldsNothing(t *testing.T) {
	p, err := New(configs("a", 2, "b", 1), 1)
	if err != nil {
		t.Fatal(err)
	}

	held, err := p.Acquire(context.Background(), "b")
	if err != nil {
		t.Fatal(err)
	}

	// "a" has free model slots but the global ceiling is taken.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, "a")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	held.Release()

	if p.InFlightTotal() != 0 {
		t.Fatalf("expected nothing held, got %d", p.InFlightTotal())
	}
	// Both model slots of "a" must be available again.
	l1, err := p.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	l1.Release()
	if p.InFlight("a") != 0 {
		t.Fatalf("expected 0 in flight for a, got %d", p.InFlight("a"))
	}
}

func TestAcquire_HighWaterMarks(t *testing.T) {
	p, err := New(configs("a", 2, "b", 3), 4)
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu        sync.Mutex
		current   = map[string]int{}
		highModel = map[string]int{}
		total     atomic.Int64
		highTotal atomic.Int64
	)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		model := "a"
		if i%2 == 1 {
			model = "b"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := p.Acquire(context.Background(), model)
			if err != nil {
				t.Error(err)
				return
			}
			defer lease.Release()

			mu.Lock()
			current[model]++
			if current[model] > highModel[model] {
				highModel[model] = current[model]
			}
			mu.Unlock()

			n := total.Add(1)
			for {
				h := highTotal.Load()
				if n <= h || highTotal.CompareAndSwap(h, n) {
					break
				}
			}

			time.Sleep(2 * time.Millisecond)

			total.Add(-1)
			mu.Lock()
			current[model]--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if highModel["a"] > 2 {
		t.Errorf("model a exceeded 2 instances: %d", highModel["a"])
	}
	if highModel["b"] > 3 {
		t.Errorf("model b exceeded 3 instances: %d", highModel["b"])
	}
	if highTotal.Load() > 4 {
		t.Errorf("global ceiling exceeded: %d", highTotal.Load())
	}
	if p.InFlightTotal() != 0 {
		t.Errorf("expected all leases released, got %d", p.InFlightTotal())
	}
}

func TestPool_Introspection(t *testing.T) {
	p, err := New(configs("zeta", 1, "alpha", 3), 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Models(); len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("unexpected models %v", got)
	}
	if p.Instances("alpha") != 3 || p.Instances("missing") != 0 {
		t.Errorf("unexpected instance counts")
	}
	if p.Capacity() != 2 {
		t.Errorf("expected capacity 2, got %d", p.Capacity())
	}
}
