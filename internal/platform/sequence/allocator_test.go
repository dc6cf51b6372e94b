package sequence

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryAllocator_StartsAtOne(t *testing.T) {
	a := NewMemoryAllocator()
	v, err := a.Next(context.Background(), Screening)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Errorf("expected first value 1, got %d", v)
	}
}

func TestMemoryAllocator_Monotonic(t *testing.T) {
	a := NewMemoryAllocator()
	ctx := context.Background()
	var prev int64
	for i := 0; i < 10; i++ {
		v, err := a.Next(ctx, Randomization)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v <= prev {
			t.Fatalf("value %d not greater than previous %d", v, prev)
		}
		prev = v
	}
}

func TestMemoryAllocator_SequencesIndependent(t *testing.T) {
	a := NewMemoryAllocator()
	ctx := context.Background()
	if _, err := a.Next(ctx, Screening); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Next(ctx, Screening); err != nil {
		t.Fatal(err)
	}
	v, err := a.Next(ctx, Randomization)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("expected randomization sequence to start at 1, got %d", v)
	}
}

func TestMemoryAllocator_Seed(t *testing.T) {
	a := NewMemoryAllocator()
	a.Seed(Screening, 41)
	v, err := a.Next(context.Background(), Screening)
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Errorf("expected 42 after seeding 41, got %d", v)
	}
}

func TestMemoryAllocator_ConcurrentUniqueness(t *testing.T) {
	const n = 100
	a := NewMemoryAllocator()
	ctx := context.Background()

	var wg sync.WaitGroup
	values := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := a.Next(ctx, Screening)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			values <- v
		}()
	}
	wg.Wait()
	close(values)

	seen := make(map[int64]bool, n)
	for v := range values {
		if seen[v] {
			t.Fatalf("value %d issued twice", v)
		}
		seen[v] = true
	}
	// Every value in 1..n must have been issued exactly once.
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Errorf("value %d never issued", i)
		}
	}
}
