package iostream

import "fmt"

// DefaultBufferBytes is the default in-RAM buffer size: about 1MB worth of
// records.
const DefaultBufferBytes = 1 << 20

// bufferRecords picks a record count close to bufBytes, never less than 1.
func bufferRecords(recSize, bufBytes int) int {
	n := bufBytes / recSize
	if n < 1 {
		n = 1
	}
	return n
}

// BufferedInput is a buffered sequential reader. Read returns a slice into
// the stream's own internal buffer; it remains valid until the next call to
// Read on the same BufferedInput.
type BufferedInput struct {
	in      *Input
	recSize int
	buf     []byte
	pos     int // byte offset, next record to hand out
	end     int // byte offset, valid data ends here
}

// OpenBufferedInput opens path for buffered sequential reading.
func OpenBufferedInput(path string, recSize, bufBytes int) (*BufferedInput, error) {
	in, err := OpenInput(path, recSize)
	if err != nil {
		return nil, err
	}
	return &BufferedInput{
		in:      in,
		recSize: recSize,
		buf:     make([]byte, bufferRecords(recSize, bufBytes)*recSize),
	}, nil
}

func (b *BufferedInput) Size() int64 { return b.in.Size() }

func (b *BufferedInput) fill() error {
	n, err := b.in.Read(b.buf)
	if err != nil {
		return err
	}
	b.pos = 0
	b.end = n * b.recSize
	return nil
}

// Read returns the next record, or ok=false at EOF.
func (b *BufferedInput) Read() (rec []byte, ok bool, err error) {
	if b.pos == b.end {
		if err := b.fill(); err != nil {
			return nil, false, err
		}
		if b.pos == b.end {
			return nil, false, nil
		}
	}
	rec = b.buf[b.pos : b.pos+b.recSize]
	b.pos += b.recSize
	return rec, true, nil
}

func (b *BufferedInput) Close() error { return b.in.Close() }

// BufferedOutput is a buffered append-only writer. Write followed by Flush
// is durable; a crash between writes loses only the buffered tail.
type BufferedOutput struct {
	out      *Output
	recSize  int
	buf      []byte
	pos      int // bytes buffered, not yet handed to out
	flushed  int64
	buffered int64 // records currently sitting in buf
}

// OpenBufferedOutput creates (or, if resume, reopens for append) path.
func OpenBufferedOutput(path string, recSize, bufBytes int, resume bool) (*BufferedOutput, error) {
	out, err := OpenOutput(path, recSize, resume)
	if err != nil {
		return nil, err
	}
	bo := &BufferedOutput{out: out, recSize: recSize, buf: make([]byte, bufferRecords(recSize, bufBytes)*recSize)}
	if resume {
		st, err := out.f.Stat()
		if err == nil {
			bo.flushed = st.Size() / int64(recSize)
		}
	}
	return bo, nil
}

// Size returns the total record count written so far (flushed + buffered).
func (b *BufferedOutput) Size() int64 { return b.flushed + b.buffered }

// Write appends one record (recSize bytes), flushing the buffer to the
// underlying file when full.
func (b *BufferedOutput) Write(rec []byte) error {
	if len(rec) != b.recSize {
		return fmt.Errorf("iostream: write record length %d != record size %d", len(rec), b.recSize)
	}
	if b.pos == len(b.buf) {
		if err := b.flushBuffer(); err != nil {
			return err
		}
	}
	copy(b.buf[b.pos:], rec)
	b.pos += b.recSize
	b.buffered++
	return nil
}

func (b *BufferedOutput) flushBuffer() error {
	if b.pos == 0 {
		return nil
	}
	if err := b.out.Write(b.buf[:b.pos]); err != nil {
		return err
	}
	b.flushed += b.buffered
	b.buffered = 0
	b.pos = 0
	return nil
}

// Flush flushes the in-RAM buffer and fsyncs the underlying file.
func (b *BufferedOutput) Flush() error {
	if err := b.flushBuffer(); err != nil {
		return err
	}
	return b.out.Flush()
}

// Close flushes and closes the underlying file.
func (b *BufferedOutput) Close() error {
	if err := b.flushBuffer(); err != nil {
		b.out.Close()
		return err
	}
	return b.out.Close()
}

// BufferedRewrite combines buffered read and buffered in-place rewrite,
// used by filter-open (component J) where the write cursor trails the read
// cursor within the same file.
type BufferedRewrite struct {
	rw       *Rewrite
	recSize  int
	readBuf  []byte
	rPos     int
	rEnd     int
	writeBuf []byte
	wPos     int
}

// OpenBufferedRewrite opens path for combined buffered read/rewrite.
func OpenBufferedRewrite(path string, recSize, bufBytes int) (*BufferedRewrite, error) {
	rw, err := OpenRewrite(path, recSize)
	if err != nil {
		return nil, err
	}
	n := bufferRecords(recSize, bufBytes)
	return &BufferedRewrite{
		rw:       rw,
		recSize:  recSize,
		readBuf:  make([]byte, n*recSize),
		writeBuf: make([]byte, n*recSize),
	}, nil
}

func (b *BufferedRewrite) Size() int64 { return b.rw.Size() }

func (b *BufferedRewrite) Read() (rec []byte, ok bool, err error) {
	if b.rPos == b.rEnd {
		n, err := b.rw.Read(b.readBuf)
		if err != nil {
			return nil, false, err
		}
		b.rPos = 0
		b.rEnd = n * b.recSize
		if b.rEnd == 0 {
			return nil, false, nil
		}
	}
	rec = b.readBuf[b.rPos : b.rPos+b.recSize]
	b.rPos += b.recSize
	return rec, true, nil
}

func (b *BufferedRewrite) Write(rec []byte) error {
	if b.wPos == len(b.writeBuf) {
		if err := b.flushBuffer(); err != nil {
			return err
		}
	}
	copy(b.writeBuf[b.wPos:], rec)
	b.wPos += b.recSize
	return nil
}

func (b *BufferedRewrite) flushBuffer() error {
	if b.wPos == 0 {
		return nil
	}
	if err := b.rw.Write(b.writeBuf[:b.wPos]); err != nil {
		return err
	}
	b.wPos = 0
	return nil
}

// Truncate flushes pending writes, then cuts the file at the write cursor.
func (b *BufferedRewrite) Truncate() error {
	if err := b.flushBuffer(); err != nil {
		return err
	}
	return b.rw.Truncate()
}

func (b *BufferedRewrite) Close() error { return b.rw.Close() }
