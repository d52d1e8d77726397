package idempotency

import (
	"testing"
	"time"
)

func TestCacheRecordAndReplay(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Stop()

	c.Set("analyze-retry-001", []byte(`{"consensus":{"confidence":0.84}}`), 200,
		map[string]string{"Content-Type": "application/json"})

	e, ok := c.Get("analyze-retry-001")
	if !ok {
		t.Fatal("expected a recording for analyze-retry-001")
	}
	if string(e.Body) != `{"consensus":{"confidence":0.84}}` {
		t.Fatalf("body = %s", e.Body)
	}
	if e.Status != 200 {
		t.Fatalf("status = %d", e.Status)
	}
	if e.Header["Content-Type"] != "application/json" {
		t.Fatalf("header = %s", e.Header["Content-Type"])
	}
}

func TestCacheMiss(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Stop()

	if _, ok := c.Get("never-recorded"); ok {
		t.Fatal("expected a miss for an unknown key")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(50*time.Millisecond, 100)
	defer c.Stop()

	c.Set("analyze-retry-001", []byte(`{}`), 200, nil)

	if _, ok := c.Get("analyze-retry-001"); !ok {
		t.Fatal("expected a hit before the TTL")
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("analyze-retry-001"); ok {
		t.Fatal("expected a miss after the TTL")
	}
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Stop()

	c.Set("retry-a", []byte(`a`), 200, nil)
	time.Sleep(time.Millisecond)
	c.Set("retry-b", []byte(`b`), 200, nil)
	time.Sleep(time.Millisecond)

	// A third recording pushes out the oldest.
	c.Set("retry-c", []byte(`c`), 200, nil)

	if _, ok := c.Get("retry-a"); ok {
		t.Fatal("oldest recording should have been evicted")
	}
	if _, ok := c.Get("retry-b"); !ok {
		t.Fatal("retry-b should still be recorded")
	}
	if _, ok := c.Get("retry-c"); !ok {
		t.Fatal("retry-c should still be recorded")
	}
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Stop()

	c.Set("retry-a", []byte(`a1`), 200, nil)
	c.Set("retry-b", []byte(`b1`), 200, nil)

	// Re-recording an existing key must not push anything out.
	c.Set("retry-a", []byte(`a2`), 201, nil)

	e, ok := c.Get("retry-a")
	if !ok {
		t.Fatal("retry-a should still be recorded")
	}
	if string(e.Body) != "a2" || e.Status != 201 {
		t.Fatalf("body = %s status = %d, want updated recording", e.Body, e.Status)
	}
	if _, ok := c.Get("retry-b"); !ok {
		t.Fatal("retry-b should still be recorded")
	}
}

func TestPruneRemovesExpired(t *testing.T) {
	c := New(50*time.Millisecond, 100)
	defer c.Stop()

	c.Set("retry-a", []byte(`a`), 200, nil)

	time.Sleep(100 * time.Millisecond)
	c.prune()

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("entries after prune = %d, want 0", n)
	}
}

func TestPruneKeepsLive(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Stop()

	c.Set("retry-a", []byte(`a`), 200, nil)
	c.prune()

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	if n != 1 {
		t.Fatalf("entries after prune = %d, want 1", n)
	}
}
