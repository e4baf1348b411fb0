package statecache

import (
	"testing"
	"time"

	"kwirksearch/internal/layout"
	"kwirksearch/internal/state"
)

func testCodec() state.Codec {
	return state.NewCodec(layout.New(16, 1))
}

func mkRec(c state.Codec, v uint16) state.Record {
	r := c.New()
	r[0] = byte(v >> 8)
	r[1] = byte(v)
	return r
}

// waitUntil polls fn, which reports whether the cache has converged to
// the expected state, for up to one second. ristretto buffers Set calls
// through an internal ring before they become visible to Get, so a
// freshly-written key may not be observable on the very next call.
func waitUntil(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("cache never converged to expected state")
}

func TestObserveFirstSightingReturnsTrue(t *testing.T) {
	c := testCodec()
	cache, err := New(c, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	rec := mkRec(c, 7)
	if !cache.Observe(rec, 10) {
		t.Error("first observation of a state should always report true")
	}
}

func TestObserveRejectsWorseFrame(t *testing.T) {
	c := testCodec()
	cache, err := New(c, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	rec := mkRec(c, 7)
	cache.Observe(rec, 5)

	waitUntil(t, func() bool {
		return !cache.Observe(rec, 10)
	})
}

func TestObserveAcceptsBetterFrame(t *testing.T) {
	c := testCodec()
	cache, err := New(c, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	rec := mkRec(c, 7)
	cache.Observe(rec, 10)

	waitUntil(t, func() bool {
		return cache.Observe(rec, 1)
	})
}

func TestResetClearsCache(t *testing.T) {
	c := testCodec()
	cache, err := New(c, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	rec := mkRec(c, 7)
	cache.Observe(rec, 0)
	cache.Reset()

	if !cache.Observe(rec, 0) {
		t.Error("after Reset, a previously-seen state should look like a first sighting")
	}
}
