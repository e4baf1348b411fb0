// Package iostream implements the three stream roles over files of
// fixed-size CompressedState records: sequential input, append-only
// output, and in-place rewrite where the write cursor trails the read
// cursor. Buffered wrappers add an in-RAM buffer on top.
package iostream

import (
	"fmt"
	"io"
	"os"
)

// Input is unbuffered sequential read access to a record file.
type Input struct {
	f       *os.File
	recSize int
	size    int64 // in records
	pos     int64 // in records
}

// OpenInput opens path for sequential reading. The file size must be a
// whole number of recSize-byte records.
func OpenInput(path string, recSize int) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("iostream: open input %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("iostream: stat input %s: %w", path, err)
	}
	if st.Size()%int64(recSize) != 0 {
		f.Close()
		return nil, fmt.Errorf("iostream: %s size %d is not a multiple of record size %d", path, st.Size(), recSize)
	}
	return &Input{f: f, recSize: recSize, size: st.Size() / int64(recSize)}, nil
}

func (in *Input) Size() int64     { return in.size }
func (in *Input) Position() int64 { return in.pos }
func (in *Input) RecordSize() int { return in.recSize }

// Seek repositions the read cursor to the given record index.
func (in *Input) Seek(record int64) error {
	_, err := in.f.Seek(record*int64(in.recSize), io.SeekStart)
	if err != nil {
		return fmt.Errorf("iostream: seek: %w", err)
	}
	in.pos = record
	return nil
}

// Read fills buf (a multiple of recSize bytes) with whole records,
// returning the number of records read. Returns (0, nil) at EOF.
func (in *Input) Read(buf []byte) (int, error) {
	if len(buf)%in.recSize != 0 {
		return 0, fmt.Errorf("iostream: read buffer %d is not a multiple of record size %d", len(buf), in.recSize)
	}
	n, err := io.ReadFull(in.f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, fmt.Errorf("iostream: read: %w", err)
	}
	records := n / in.recSize
	in.pos += int64(records)
	return records, nil
}

func (in *Input) Close() error { return in.f.Close() }

// Output is unbuffered append-only write access to a record file.
type Output struct {
	f       *os.File
	recSize int
}

// OpenOutput creates (or, if resume, reopens for append) path.
func OpenOutput(path string, recSize int, resume bool) (*Output, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("iostream: open output %s: %w", path, err)
	}
	return &Output{f: f, recSize: recSize}, nil
}

// Write appends whole records from buf.
func (out *Output) Write(buf []byte) error {
	if len(buf)%out.recSize != 0 {
		return fmt.Errorf("iostream: write buffer %d is not a multiple of record size %d", len(buf), out.recSize)
	}
	if len(buf) == 0 {
		return nil
	}
	_, err := out.f.Write(buf)
	if err != nil {
		return fmt.Errorf("iostream: write: %w", err)
	}
	return nil
}

// Flush forces buffered writes to durable storage.
func (out *Output) Flush() error {
	if err := out.f.Sync(); err != nil {
		return fmt.Errorf("iostream: flush: %w", err)
	}
	return nil
}

func (out *Output) Close() error { return out.f.Close() }

// Rewrite supports in-place rewriting where the write cursor never passes
// the read cursor: records are consumed from the front and an equal or
// smaller number are written back, then the file is truncated at the write
// cursor.
type Rewrite struct {
	f        *os.File
	recSize  int
	size     int64
	readPos  int64
	writePos int64
}

// OpenRewrite opens path for combined read-then-rewrite access.
func OpenRewrite(path string, recSize int) (*Rewrite, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("iostream: open rewrite %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("iostream: stat rewrite %s: %w", path, err)
	}
	return &Rewrite{f: f, recSize: recSize, size: st.Size() / int64(recSize)}, nil
}

func (rw *Rewrite) Size() int64     { return rw.size }
func (rw *Rewrite) Position() int64 { return rw.readPos }

// Read returns the next record(s) the same way Input.Read does.
func (rw *Rewrite) Read(buf []byte) (int, error) {
	if _, err := rw.f.Seek(rw.readPos*int64(rw.recSize), io.SeekStart); err != nil {
		return 0, fmt.Errorf("iostream: rewrite seek read: %w", err)
	}
	n, err := io.ReadFull(rw.f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, fmt.Errorf("iostream: rewrite read: %w", err)
	}
	records := n / rw.recSize
	rw.readPos += int64(records)
	return records, nil
}

// Write writes buf at the current write cursor, which must never pass the
// read cursor.
func (rw *Rewrite) Write(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if _, err := rw.f.Seek(rw.writePos*int64(rw.recSize), io.SeekStart); err != nil {
		return fmt.Errorf("iostream: rewrite seek write: %w", err)
	}
	if _, err := rw.f.Write(buf); err != nil {
		return fmt.Errorf("iostream: rewrite write: %w", err)
	}
	rw.writePos += int64(len(buf) / rw.recSize)
	return nil
}

// Truncate cuts the file at the write cursor; call once rewriting is done.
func (rw *Rewrite) Truncate() error {
	if err := rw.f.Truncate(rw.writePos * int64(rw.recSize)); err != nil {
		return fmt.Errorf("iostream: truncate: %w", err)
	}
	return nil
}

func (rw *Rewrite) Close() error { return rw.f.Close() }
