// Package state implements CompressedState: the fixed-width, bit-packed
// record that flows through every disk stream in the frontier engine, and
// the total order used to sort, merge, and deduplicate it.
//
// Two records with identical data bits must compare equal regardless of
// their subframe tag; ordering is likewise data-bits-only. The canonical
// representative of a group of data-equal records is the one carrying the
// smallest subframe.
package state

import "kwirksearch/internal/layout"

// Record is a single on-disk CompressedState: Layout.RecordSize bytes, data
// bits first, the subframe tag (if any) in the trailing SubframeSize bytes.
type Record []byte

// Codec packs/compares/subframes Records for a fixed Layout. It holds no
// mutable state and is safe for concurrent use.
type Codec struct {
	L layout.Layout
}

// NewCodec returns a Codec for the given layout.
func NewCodec(l layout.Layout) Codec { return Codec{L: l} }

// New allocates a zeroed record of the codec's configured size.
func (c Codec) New() Record { return make(Record, c.L.RecordSize) }

// Data returns the data-bits portion of r (excludes the subframe tag).
func (c Codec) Data(r Record) []byte { return r[:c.L.DataSize] }

// Subframe returns the value of r's trailing subframe tag.
func (c Codec) Subframe(r Record) uint32 {
	if c.L.SubframeSize == 0 {
		return 0
	}
	var v uint32
	for _, b := range r[c.L.DataSize:] {
		v = v<<8 | uint32(b)
	}
	return v
}

// SetSubframe stores frame%framesPerGroup into r's trailing subframe tag.
func (c Codec) SetSubframe(r Record, frame int64, framesPerGroup int) {
	if c.L.SubframeSize == 0 {
		return
	}
	v := uint32(frame % int64(framesPerGroup))
	for i := c.L.SubframeSize - 1; i >= 0; i-- {
		r[c.L.DataSize+i] = byte(v)
		v >>= 8
	}
}

// Frame reconstructs the absolute frame of r, given the frame group it was
// read from.
func (c Codec) Frame(group int64, r Record, framesPerGroup int) int64 {
	return group*int64(framesPerGroup) + int64(c.Subframe(r))
}

// Equal reports whether a and b carry identical data bits, ignoring
// subframe.
func (c Codec) Equal(a, b Record) bool {
	return compareData(c.Data(a), c.Data(b)) == 0
}

// Less reports whether a sorts strictly before b by data bits.
func (c Codec) Less(a, b Record) bool {
	return compareData(c.Data(a), c.Data(b)) < 0
}

// LessEqual reports a <= b by data bits.
func (c Codec) LessEqual(a, b Record) bool {
	return compareData(c.Data(a), c.Data(b)) <= 0
}

// Compare returns -1/0/1 for a</==/>b by data bits, the order used for
// sorting and merging.
func (c Codec) Compare(a, b Record) int {
	return compareData(c.Data(a), c.Data(b))
}

// Copy copies src into a freshly allocated record.
func (c Codec) Copy(src Record) Record {
	dst := c.New()
	copy(dst, src)
	return dst
}
