package deferred

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestValue_ResolveOnce(t *testing.T) {
	v := New[int]()

	if v.Settled() {
		t.Error("expected unsettled value")
	}
	if err := v.Resolve(42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Settled() {
		t.Error("expected settled value")
	}

	// second settlement attempt must fail and change nothing
	if err := v.Resolve(99); !errors.Is(err, ErrSettled) {
		t.Errorf("expected ErrSettled, got %v", err)
	}
	if err := v.Reject(errors.New("late")); !errors.Is(err, ErrSettled) {
		t.Errorf("expected ErrSettled, got %v", err)
	}

	got, err := v.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestValue_RejectOnce(t *testing.T) {
	v := New[string]()
	cause := errors.New("boom")

	if err := v.Reject(cause); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := v.Resolve("late"); !errors.Is(err, ErrSettled) {
		t.Errorf("expected ErrSettled, got %v", err)
	}

	got, err := v.Get(context.Background())
	if !errors.Is(err, cause) {
		t.Errorf("expected cause, got %v", err)
	}
	if got != "" {
		t.Errorf("expected zero value, got %q", got)
	}
	if !errors.Is(v.Err(), cause) {
		t.Errorf("expected cause from Err, got %v", v.Err())
	}
}

func TestValue_ThenFIFOOrder(t *testing.T) {
	v := New[int]()
	var order []int

	for i := 0; i < 5; i++ {
		n := i
		v.Then(func(val int, err error) {
			order = append(order, n)
		})
	}
	if v.Pending() != 5 {
		t.Errorf("expected 5 pending, got %d", v.Pending())
	}

	if err := v.Resolve(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(order) != 5 {
		t.Fatalf("expected 5 continuations, got %d", len(order))
	}
	for i, n := range order {
		if n != i {
			t.Errorf("position %d: expected %d, got %d", i, i, n)
		}
	}
	if v.Pending() != 0 {
		t.Errorf("expected 0 pending after drain, got %d", v.Pending())
	}
}

func TestValue_ThenAfterSettleRunsImmediately(t *testing.T) {
	v := New[int]()
	v.Resolve(7)

	ran := false
	v.Then(func(val int, err error) {
		if val != 7 {
			t.Errorf("expected 7, got %d", val)
		}
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		ran = true
	})
	if !ran {
		t.Error("expected continuation to run immediately")
	}
}

func TestValue_ThenReceivesRejection(t *testing.T) {
	v := New[int]()
	cause := errors.New("attach failed")

	var got error
	var val int
	v.Then(func(x int, err error) {
		val, got = x, err
	})
	v.Reject(cause)

	if !errors.Is(got, cause) {
		t.Errorf("expected cause, got %v", got)
	}
	if val != 0 {
		t.Errorf("expected zero value, got %d", val)
	}
}

func TestValue_ReentrantThen(t *testing.T) {
	// a continuation may enqueue another continuation on the same value
	v := New[int]()
	var order []string

	v.Then(func(int, error) {
		order = append(order, "outer")
		v.Then(func(int, error) {
			order = append(order, "inner")
		})
	})
	v.Then(func(int, error) {
		order = append(order, "second")
	})
	v.Resolve(1)

	want := []string{"outer", "second", "inner"}
	if len(order) != len(want) {
		t.Fatalf("expected %d continuations, got %d (%v)", len(want), len(order), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestValue_GetBlocksUntilResolve(t *testing.T) {
	v := New[int]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		v.Resolve(5)
	}()

	got, err := v.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}

func TestValue_GetHonorsContext(t *testing.T) {
	v := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := v.Get(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	// an abandoned wait must not settle the value
	if v.Settled() {
		t.Error("expected value still unsettled")
	}
	v.Resolve(3)
	got, err := v.Get(context.Background())
	if err != nil || got != 3 {
		t.Errorf("expected (3, nil), got (%d, %v)", got, err)
	}
}

func TestValue_RejectNilError(t *testing.T) {
	v := New[int]()
	if err := v.Reject(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Err() == nil {
		t.Error("expected a non-nil rejection error")
	}
}

func TestValue_ConcurrentThen(t *testing.T) {
	v := New[int]()
	var mu sync.Mutex
	var count int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Then(func(int, error) {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	v.Resolve(1)

	// late continuations after settlement
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Then(func(int, error) {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 100 {
		t.Errorf("expected every continuation to run exactly once, got %d", count)
	}
}
