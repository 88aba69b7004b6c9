package queue

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("expected len 5, got %d", q.Len())
	}
	for i := 0; i < 5; i++ {
		v, err := q.Pop(time.Second)
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
	}
}

func TestQueuePopTimeout(t *testing.T) {
	q := New[string]()
	start := time.Now()
	_, err := q.Pop(20 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("pop returned before timeout")
	}
}

func TestQueueStopDrainsPendingFirst(t *testing.T) {
	q := New[string]()
	_ = q.Push("a")
	_ = q.Push("b")
	q.Stop()
	q.Stop()

	if q.Len() != 2 {
		t.Fatalf("sentinel must not count, got len %d", q.Len())
	}
	if err := q.Push("c"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected push after stop to fail, got %v", err)
	}

	for _, want := range []string{"a", "b"} {
		got, err := q.Pop(time.Second)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
	if _, err := q.Pop(time.Second); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected stop sentinel, got %v", err)
	}
	if !q.Stopped() {
		t.Fatal("expected queue to report stopped")
	}
	if _, err := q.Pop(time.Second); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected stopped on subsequent pop, got %v", err)
	}
}

func TestQueueBlockingPopWakesOnPush(t *testing.T) {
	q := New[int]()
	done := make(chan int, 1)
	go func() {
		v, err := q.Pop(5 * time.Second)
		if err != nil {
			done <- -1
			return
		}
		done <- v
	}()
	time.Sleep(10 * time.Millisecond)
	_ = q.Push(42)
	select {
	case v := <-done:
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not wake on push")
	}
}

func TestQueueConcurrentProducerKeepsOrder(t *testing.T) {
	q := New[int]()
	const n = 500
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = q.Push(i)
		}
		q.Stop()
	}()

	next := 0
	for {
		v, err := q.Pop(time.Second)
		if errors.Is(err, ErrStopped) {
			break
		}
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if v != next {
			t.Fatalf("expected %d, got %d", next, v)
		}
		next++
	}
	wg.Wait()
	if next != n {
		t.Fatalf("expected %d items, got %d", n, next)
	}
}
