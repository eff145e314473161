package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrCreateMissCallsProducerOnce(t *testing.T) {
	l := New(NewMemCache())
	var calls int32
	producer := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	v, err := l.GetOrCreate(context.Background(), "k", time.Minute, producer)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if v != "value" {
		t.Fatalf("v = %q, want value", v)
	}

	v2, err := l.GetOrCreate(context.Background(), "k", time.Minute, producer)
	if err != nil {
		t.Fatalf("GetOrCreate (hit): %v", err)
	}
	if v2 != "value" || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("producer called %d times, want 1 (second call should hit cache)", calls)
	}
}

func TestGetOrCreateConcurrentMissesCollapse(t *testing.T) {
	l := New(NewMemCache())
	var calls int32
	var wg sync.WaitGroup
	producer := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return "shared", nil
	}

	const n = 20
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := l.GetOrCreate(context.Background(), "shared-key", time.Minute, producer)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if c := atomic.LoadInt32(&calls); c != 1 {
		t.Fatalf("producer called %d times, want exactly 1", c)
	}
	for i, v := range results {
		if v != "shared" {
			t.Errorf("results[%d] = %q, want shared", i, v)
		}
	}
}

func TestGetOrCreatePropagatesProducerError(t *testing.T) {
	l := New(NewMemCache())
	wantErr := errors.New("producer failed")
	_, err := l.GetOrCreate(context.Background(), "k", time.Minute, func(ctx context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestDeleteInvalidatesKey(t *testing.T) {
	l := New(NewMemCache())
	var calls int32
	producer := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}

	if _, err := l.GetOrCreate(context.Background(), "k", time.Minute, producer); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := l.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := l.GetOrCreate(context.Background(), "k", time.Minute, producer); err != nil {
		t.Fatalf("GetOrCreate after delete: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("producer called %d times, want 2 (cache must have been invalidated)", calls)
	}
}

func TestDeleteMulti(t *testing.T) {
	l := New(NewMemCache())
	ctx := context.Background()
	if err := l.Set(ctx, "a", "1", time.Minute); err != nil {
		t.Fatalf("Set a: %v", err)
	}
	if err := l.Set(ctx, "b", "2", time.Minute); err != nil {
		t.Fatalf("Set b: %v", err)
	}
	if err := l.DeleteMulti(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("DeleteMulti: %v", err)
	}
	if _, ok, _ := l.backend.Get(ctx, "a"); ok {
		t.Error("a still present after DeleteMulti")
	}
	if _, ok, _ := l.backend.Get(ctx, "b"); ok {
		t.Error("b still present after DeleteMulti")
	}
}
