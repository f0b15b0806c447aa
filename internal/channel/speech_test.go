package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSpeechQueueEmitsInOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []string
	q := NewSpeechQueue(nil, func(u Utterance) {
		mu.Lock()
		got = append(got, u.ID)
		mu.Unlock()
	}, testLogger())
	defer q.Close()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(context.Background(), Utterance{ID: fmt.Sprintf("u%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	})
	mu.Lock()
	defer mu.Unlock()
	for i, id := range got {
		if id != fmt.Sprintf("u%d", i) {
			t.Fatalf("order = %v", got)
		}
	}
}

func TestSpeechQueueWaitsWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var mu sync.Mutex
	var got []string
	q := NewSpeechQueue(nil, func(u Utterance) {
		if u.ID == "blocker" {
			started <- struct{}{}
			<-release
		}
		mu.Lock()
		got = append(got, u.ID)
		mu.Unlock()
	}, testLogger())
	defer q.Close()

	ctx := context.Background()
	if err := q.Enqueue(ctx, Utterance{ID: "blocker"}); err != nil {
		t.Fatal(err)
	}
	<-started

	total := speechQueueSize + 3
	errs := make(chan error, total)
	go func() {
		for i := 0; i < total; i++ {
			errs <- q.Enqueue(ctx, Utterance{ID: fmt.Sprintf("u%d", i)})
		}
	}()
	waitFor(t, 2*time.Second, func() bool { return q.Len() == speechQueueSize && len(errs) == speechQueueSize })
	time.Sleep(20 * time.Millisecond)
	if n := len(errs); n != speechQueueSize {
		t.Fatalf("%d enqueues returned while the queue was full, want %d", n, speechQueueSize)
	}
	close(release)

	for i := 0; i < total; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == total+1
	})
	mu.Lock()
	defer mu.Unlock()
	for i, id := range got[1:] {
		if id != fmt.Sprintf("u%d", i) {
			t.Fatalf("order = %v", got)
		}
	}
}

func TestSpeechQueueEnqueueHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	q := NewSpeechQueue(nil, func(Utterance) { <-release }, testLogger())
	defer q.Close()
	defer close(release)

	bg := context.Background()
	for i := 0; i <= speechQueueSize; i++ {
		if err := q.Enqueue(bg, Utterance{ID: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return q.Len() == speechQueueSize })

	ctx, cancel := context.WithTimeout(bg, 50*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, Utterance{ID: "late"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Enqueue on a full queue = %v, want deadline exceeded", err)
	}
}

func TestSpeechQueueCloseIsPrompt(t *testing.T) {
	t.Parallel()

	q := NewSpeechQueue(nil, nil, testLogger())
	for i := 0; i < 10; i++ {
		_ = q.Enqueue(context.Background(), Utterance{ID: fmt.Sprint(i)})
	}

	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	if err := q.Enqueue(context.Background(), Utterance{ID: "late"}); !errors.Is(err, ErrRoomClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrRoomClosed", err)
	}
}
