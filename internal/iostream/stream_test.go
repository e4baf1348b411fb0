package iostream

import (
	"os"
	"path/filepath"
	"testing"
)

const testRecSize = 4

func rec4(v byte) []byte { return []byte{v, v + 1, v + 2, v + 3} }

func writeRecords(t *testing.T, path string, vals ...byte) {
	t.Helper()
	out, err := OpenOutput(path, testRecSize, false)
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	for _, v := range vals {
		if err := out.Write(rec4(v)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestInputReadsWhatOutputWrote(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.bin")
	writeRecords(t, path, 1, 5, 9)

	in, err := OpenInput(path, testRecSize)
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	defer in.Close()

	if in.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", in.Size())
	}
	buf := make([]byte, 3*testRecSize)
	n, err := in.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 3 {
		t.Fatalf("Read returned %d records, want 3", n)
	}
	if buf[0] != 1 || buf[testRecSize] != 5 || buf[2*testRecSize] != 9 {
		t.Errorf("records read back out of order: % x", buf)
	}
	if n, _ := in.Read(buf); n != 0 {
		t.Errorf("Read at EOF returned %d records, want 0", n)
	}
}

func TestInputRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenInput(path, testRecSize); err == nil {
		t.Error("OpenInput should reject a file that is not a whole number of records")
	}
}

func TestInputSeek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seek.bin")
	writeRecords(t, path, 1, 5, 9)

	in, err := OpenInput(path, testRecSize)
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	defer in.Close()

	if err := in.Seek(2); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, testRecSize)
	if _, err := in.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != 9 {
		t.Errorf("record at index 2 starts with %d, want 9", buf[0])
	}
}

func TestOutputResumeAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.bin")
	writeRecords(t, path, 1)

	out, err := OpenOutput(path, testRecSize, true)
	if err != nil {
		t.Fatalf("OpenOutput resume: %v", err)
	}
	if err := out.Write(rec4(5)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	in, err := OpenInput(path, testRecSize)
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	defer in.Close()
	if in.Size() != 2 {
		t.Errorf("Size() after resume-append = %d, want 2", in.Size())
	}
}

func TestRewriteTruncatesAtWriteCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewrite.bin")
	writeRecords(t, path, 1, 5, 9, 13)

	rw, err := OpenRewrite(path, testRecSize)
	if err != nil {
		t.Fatalf("OpenRewrite: %v", err)
	}

	// Keep every other record.
	buf := make([]byte, testRecSize)
	kept := 0
	for i := 0; ; i++ {
		n, err := rw.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			break
		}
		if i%2 == 0 {
			if err := rw.Write(buf); err != nil {
				t.Fatalf("Write: %v", err)
			}
			kept++
		}
	}
	if err := rw.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	in, err := OpenInput(path, testRecSize)
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	defer in.Close()
	if in.Size() != int64(kept) {
		t.Fatalf("Size() after truncate = %d, want %d", in.Size(), kept)
	}
	out := make([]byte, 2*testRecSize)
	if _, err := in.Read(out); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out[0] != 1 || out[testRecSize] != 9 {
		t.Errorf("rewrite kept wrong records: % x", out)
	}
}
