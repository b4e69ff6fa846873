package httpapi

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCallDirectoryTakeIsOnce(t *testing.T) {
	d := newCallDirectory()
	d.remember("CA1", callContext{ContactID: "003A", AccountID: "001B"})

	c, ok := d.take("CA1")
	if !ok || c.ContactID != "003A" || c.AccountID != "001B" {
		t.Fatalf("take() = %+v, %v; want the remembered context", c, ok)
	}
	if _, ok := d.take("CA1"); ok {
		t.Fatalf("second take() succeeded, want the context consumed")
	}
	if _, ok := d.take("CA-unknown"); ok {
		t.Fatalf("take() of an unknown call succeeded")
	}
	if n := d.size(); n != 0 {
		t.Fatalf("size() = %d, want 0", n)
	}
}

func TestCallDirectoryPrunesStaleCalls(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newCallDirectory()
	d.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	for i := 0; i < 1000; i++ {
		d.remember(fmt.Sprintf("CA%04d", i), callContext{})
	}
	if n := d.size(); n != 1000 {
		t.Fatalf("size() = %d, want 1000", n)
	}

	mu.Lock()
	now = now.Add(48 * time.Hour)
	mu.Unlock()

	// Lookups alone must prune, even with no new outbound calls.
	if _, ok := d.take("CA0001"); ok {
		t.Fatalf("take() returned a context older than the TTL")
	}
	if n := d.size(); n != 0 {
		t.Fatalf("size() = %d after 48h, want stale contexts pruned", n)
	}

	d.remember("CA-new", callContext{})
	if n := d.size(); n != 1 {
		t.Fatalf("size() = %d, want 1", n)
	}
}
