package rheap

import (
	"testing"

	"kwirksearch/internal/layout"
	"kwirksearch/internal/state"
)

// sliceSource replays a fixed list of records, one per Read call, then
// reports EOF.
type sliceSource struct {
	recs [][]byte
	i    int
}

func (s *sliceSource) Read() ([]byte, bool, error) {
	if s.i >= len(s.recs) {
		return nil, false, nil
	}
	r := s.recs[s.i]
	s.i++
	return r, true, nil
}

func rec16(c state.Codec, v uint16) state.Record {
	r := c.New()
	r[0] = byte(v >> 8)
	r[1] = byte(v)
	return r
}

func newTestCodec() state.Codec {
	return state.NewCodec(layout.New(16, 1))
}

func TestHeapOrdersAcrossStreams(t *testing.T) {
	c := newTestCodec()
	s1 := &sliceSource{recs: [][]byte{rec16(c, 1), rec16(c, 4), rec16(c, 9)}}
	s2 := &sliceSource{recs: [][]byte{rec16(c, 2), rec16(c, 3), rec16(c, 8)}}

	h, err := New(c, []Source{s1, s2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got []uint16
	for !h.Empty() {
		rec, _, ok := h.Head()
		if !ok {
			t.Fatal("Head reported not-ok while heap non-empty")
		}
		got = append(got, uint16(rec[0])<<8|uint16(rec[1]))
		more, err := h.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !more && !h.Empty() {
			t.Fatal("Next reported false but heap is not empty")
		}
	}

	want := []uint16{1, 2, 3, 4, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestHeapEmptySources(t *testing.T) {
	c := newTestCodec()
	h, err := New(c, []Source{&sliceSource{}, &sliceSource{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !h.Empty() {
		t.Error("heap over empty sources should be empty")
	}
	if _, _, ok := h.Head(); ok {
		t.Error("Head on empty heap should report ok=false")
	}
}

func TestScanToSkipsSmallerRecords(t *testing.T) {
	c := newTestCodec()
	s1 := &sliceSource{recs: [][]byte{rec16(c, 1), rec16(c, 2), rec16(c, 10), rec16(c, 20)}}
	s2 := &sliceSource{recs: [][]byte{rec16(c, 3), rec16(c, 5), rec16(c, 15)}}

	h, err := New(c, []Source{s1, s2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.ScanTo(rec16(c, 10)); err != nil {
		t.Fatalf("ScanTo: %v", err)
	}
	rec, _, ok := h.Head()
	if !ok {
		t.Fatal("expected a head after scanning")
	}
	got := uint16(rec[0])<<8 | uint16(rec[1])
	if got != 10 {
		t.Errorf("head after ScanTo(10) = %d, want 10", got)
	}
}

func TestScanToConsumesEqualHeadsAcrossStreams(t *testing.T) {
	c := newTestCodec()
	// Both streams start at the same record; neither may be dropped
	// without being advanced past it.
	s1 := &sliceSource{recs: [][]byte{rec16(c, 2), rec16(c, 7)}}
	s2 := &sliceSource{recs: [][]byte{rec16(c, 2), rec16(c, 5)}}

	h, err := New(c, []Source{s1, s2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.ScanTo(rec16(c, 5)); err != nil {
		t.Fatalf("ScanTo: %v", err)
	}

	var got []uint16
	for {
		rec, _, ok := h.Head()
		if !ok {
			break
		}
		got = append(got, uint16(rec[0])<<8|uint16(rec[1]))
		if _, err := h.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	want := []uint16{5, 7}
	if len(got) != len(want) {
		t.Fatalf("records after ScanTo(5) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
