package iostream

import (
	"path/filepath"
	"testing"
)

func TestBufferedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffered.bin")

	out, err := OpenBufferedOutput(path, testRecSize, 2*testRecSize, false)
	if err != nil {
		t.Fatalf("OpenBufferedOutput: %v", err)
	}
	// More records than fit in the buffer, to force intermediate
	// flushes.
	vals := []byte{1, 5, 9, 13, 17}
	for _, v := range vals {
		if err := out.Write(rec4(v)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if out.Size() != int64(len(vals)) {
		t.Errorf("Size() = %d, want %d (flushed + buffered)", out.Size(), len(vals))
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	in, err := OpenBufferedInput(path, testRecSize, 2*testRecSize)
	if err != nil {
		t.Fatalf("OpenBufferedInput: %v", err)
	}
	defer in.Close()
	for i, v := range vals {
		rec, ok, err := in.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("Read %d: unexpected EOF", i)
		}
		if rec[0] != v {
			t.Errorf("record %d starts with %d, want %d", i, rec[0], v)
		}
	}
	if _, ok, _ := in.Read(); ok {
		t.Error("Read past the last record should report EOF")
	}
}

func TestBufferedOutputResumeCountsExistingRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.bin")
	writeRecords(t, path, 1, 5)

	out, err := OpenBufferedOutput(path, testRecSize, DefaultBufferBytes, true)
	if err != nil {
		t.Fatalf("OpenBufferedOutput resume: %v", err)
	}
	defer out.Close()
	if out.Size() != 2 {
		t.Errorf("Size() on resume = %d, want 2", out.Size())
	}
	if err := out.Write(rec4(9)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out.Size() != 3 {
		t.Errorf("Size() after append = %d, want 3", out.Size())
	}
}

func TestBufferedOutputRejectsWrongRecordLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badlen.bin")
	out, err := OpenBufferedOutput(path, testRecSize, DefaultBufferBytes, false)
	if err != nil {
		t.Fatalf("OpenBufferedOutput: %v", err)
	}
	defer out.Close()
	if err := out.Write([]byte{1, 2}); err == nil {
		t.Error("Write with a short record should fail")
	}
}

func TestBufferedRewriteFiltersInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brw.bin")
	writeRecords(t, path, 1, 5, 9, 13, 17)

	rw, err := OpenBufferedRewrite(path, testRecSize, 2*testRecSize)
	if err != nil {
		t.Fatalf("OpenBufferedRewrite: %v", err)
	}
	for {
		rec, ok, err := rw.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !ok {
			break
		}
		if rec[0] != 9 {
			if err := rw.Write(rec); err != nil {
				t.Fatalf("Write: %v", err)
			}
		}
	}
	if err := rw.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	in, err := OpenBufferedInput(path, testRecSize, DefaultBufferBytes)
	if err != nil {
		t.Fatalf("OpenBufferedInput: %v", err)
	}
	defer in.Close()
	var got []byte
	for {
		rec, ok, err := in.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, rec[0])
	}
	want := []byte{1, 5, 13, 17}
	if len(got) != len(want) {
		t.Fatalf("surviving records = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
