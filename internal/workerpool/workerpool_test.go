package workerpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"kwirksearch/internal/layout"
	"kwirksearch/internal/state"
)

func TestNextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {16, 16}, {17, 32},
	}
	for _, c := range cases {
		if got := nextPow2(c.in); got != c.want {
			t.Errorf("nextPow2(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPoolProcessesEveryRecord(t *testing.T) {
	c := state.NewCodec(layout.New(16, 1))
	p := New(8)

	const n = 1000
	var processed int64
	var mu sync.Mutex
	seen := make(map[uint16]bool)

	p.Start(4, func(rec state.Record) error {
		v := uint16(rec[0])<<8 | uint16(rec[1])
		mu.Lock()
		seen[v] = true
		mu.Unlock()
		atomic.AddInt64(&processed, 1)
		return nil
	})

	for i := 0; i < n; i++ {
		rec := c.New()
		rec[0] = byte(i >> 8)
		rec[1] = byte(i)
		p.Enqueue(rec)
	}

	if err := p.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if processed != n {
		t.Fatalf("processed %d records, want %d", processed, n)
	}
	if len(seen) != n {
		t.Fatalf("saw %d distinct values, want %d", len(seen), n)
	}
}

func TestDrainReportsFirstHandlerError(t *testing.T) {
	c := state.NewCodec(layout.New(16, 1))
	p := New(4)
	boom := errors.New("boom")

	p.Start(2, func(rec state.Record) error {
		return boom
	})
	p.Enqueue(c.New())
	p.Enqueue(c.New())

	if err := p.Drain(); err == nil {
		t.Fatal("Drain should report the handler's error")
	}
}

func TestPoolCanBeRestarted(t *testing.T) {
	c := state.NewCodec(layout.New(16, 1))
	p := New(4)

	var count int64
	p.Start(2, func(rec state.Record) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	p.Enqueue(c.New())
	if err := p.Drain(); err != nil {
		t.Fatalf("first Drain: %v", err)
	}

	p.Start(2, func(rec state.Record) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	p.Enqueue(c.New())
	if err := p.Drain(); err != nil {
		t.Fatalf("second Drain: %v", err)
	}

	if count != 2 {
		t.Fatalf("count = %d, want 2 across both runs", count)
	}
}
