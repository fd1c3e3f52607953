package bus

import (
	"sync"
	"testing"
	"time"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	b := New()

	var mu sync.Mutex
	received := map[string]int{}
	for _, id := range []string{"a", "b", "c"} {
		id := id
		b.Subscribe(id, func(Event) {
			mu.Lock()
			received[id]++
			mu.Unlock()
		})
	}

	b.Broadcast(Event{Name: "progress", JobID: "job-1"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	})
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()

	var mu sync.Mutex
	count := 0
	b.Subscribe("a", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	b.Unsubscribe("a")
	b.Broadcast(Event{Name: "progress"})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	b := New()

	block := make(chan struct{})
	b.Subscribe("slow", func(Event) {
		<-block // never returns until test closes it
	})

	// First event is picked up by the handler goroutine and blocks it;
	// flooding past backlogSize must not block Broadcast itself.
	done := make(chan struct{})
	go func() {
		for i := 0; i < backlogSize*2; i++ {
			b.Broadcast(Event{Name: "progress"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("slow subscriber still registered: SubscriberCount = %d, want 0", n)
	}
	close(block)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
