package packager

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glaciertar/glaciertar/internal/crypto"
	"github.com/glaciertar/glaciertar/internal/statedb"
)

func openTestDB(t *testing.T) *statedb.DB {
	t.Helper()
	db, err := statedb.Open(filepath.Join(t.TempDir(), "state.sqlite3"), nil)
	if err != nil {
		t.Fatalf("failed to open state db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writeSourceFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, bytes.Repeat([]byte{'x'}, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// scheduleInto mirrors the orchestrator: a row must exist before the part's
// state can transition.
func scheduleInto(t *testing.T, db *statedb.DB, file, part string) {
	t.Helper()
	if err := db.RecordScheduled(file, part); err != nil {
		t.Fatal(err)
	}
}

func TestPartWriterCommitPublishesAtomically(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	final := filepath.Join(dir, "000_out.tar")
	src := writeSourceFile(t, dir, "src.txt", 16)
	scheduleInto(t, db, src, "000_out.tar")

	var submitted []string
	pw, err := NewPartWriter(final, nil, db, func(path string) {
		submitted = append(submitted, path)

		// By the time the queue sees the part it must be complete on
		// disk and already PACKAGED in the state store.
		if _, err := os.Stat(path); err != nil {
			t.Errorf("submitted part not on disk: %v", err)
		}
		parts, err := db.PackagedParts()
		if err != nil || len(parts) != 1 || parts[0] != "000_out.tar" {
			t.Errorf("packaged parts at submit time = %v (%v)", parts, err)
		}
	})
	if err != nil {
		t.Fatalf("NewPartWriter failed: %v", err)
	}

	payload := []byte("hello part payload")
	if _, err := pw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if pw.Tell() != int64(len(payload)) {
		t.Errorf("Tell = %d, want %d", pw.Tell(), len(payload))
	}

	// The canonical name must not exist until commit.
	if _, err := os.Stat(final); !os.IsNotExist(err) {
		t.Error("final part name visible before commit")
	}

	if err := pw.Close(true); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(submitted) != 1 || submitted[0] != final {
		t.Errorf("submitted = %v, want [%s]", submitted, final)
	}

	content, err := os.ReadFile(final)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(content, payload) {
		t.Error("part content mismatch")
	}

	// Second close is a no-op.
	if err := pw.Close(true); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if len(submitted) != 1 {
		t.Error("second close must not resubmit")
	}
}

func TestPartWriterDiscardRemovesTemp(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	final := filepath.Join(dir, "000_out.tar")

	pw, err := NewPartWriter(final, nil, db, func(string) {
		t.Error("discarded part must not be submitted")
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pw.Write([]byte("doomed")); err != nil {
		t.Fatal(err)
	}
	if err := pw.Close(false); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("directory not empty after discard: %v", entries)
	}
}

func TestPartWriterEncrypts(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	final := filepath.Join(dir, "000_out.tar.chacha20")
	src := writeSourceFile(t, dir, "src.txt", 1)
	scheduleInto(t, db, src, filepath.Base(final))

	key := []byte(strings.Repeat("k", crypto.KeyLength))
	pw, err := NewPartWriter(final, key, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("stream of archive bytes")
	if _, err := pw.Write(plaintext); err != nil {
		t.Fatal(err)
	}
	if pw.Tell() != int64(len(plaintext)) {
		t.Errorf("Tell = %d, want plaintext length %d", pw.Tell(), len(plaintext))
	}
	if err := pw.Close(true); err != nil {
		t.Fatal(err)
	}

	ciphertext, err := os.ReadFile(final)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("part was not encrypted")
	}

	decPath := filepath.Join(dir, "decrypted.tar")
	if err := crypto.DecryptFile(final, decPath, key, 7); err != nil {
		t.Fatal(err)
	}
	decrypted, err := os.ReadFile(decPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("decrypt round-trip mismatch")
	}
}

func TestProducerPartNaming(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	template := filepath.Join(dir, "out.tar")

	p, err := NewProducer(db, template, 0, nil, "", 4096, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(false)

	if got := p.CurrentPartName(); got != "000_out.tar" {
		t.Errorf("first part name = %q, want %q", got, "000_out.tar")
	}
}

func TestProducerResumeIndex(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	template := filepath.Join(dir, "out.tar")

	// A resumed run starts at the count of already uploaded parts.
	p, err := NewProducer(db, template, 2, nil, "", 4096, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(false)

	if got := p.CurrentPartName(); got != "002_out.tar" {
		t.Errorf("resumed part name = %q, want %q", got, "002_out.tar")
	}
}

func TestProducerRotateAndContents(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	srcDir := t.TempDir()
	template := filepath.Join(dir, "out.tar")

	fileA := writeSourceFile(t, srcDir, "a.txt", 100)
	fileB := writeSourceFile(t, srcDir, "b.txt", 200)

	var submitted []string
	p, err := NewProducer(db, template, 0, nil, "", 4096, func(path string) {
		submitted = append(submitted, path)
	})
	if err != nil {
		t.Fatal(err)
	}

	scheduleInto(t, db, fileA, p.CurrentPartName())
	if err := p.Add(fileA); err != nil {
		t.Fatal(err)
	}
	if err := p.Rotate(); err != nil {
		t.Fatal(err)
	}
	if got := p.CurrentPartName(); got != "001_out.tar" {
		t.Errorf("part name after rotate = %q, want %q", got, "001_out.tar")
	}

	scheduleInto(t, db, fileB, p.CurrentPartName())
	if err := p.Add(fileB); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(true); err != nil {
		t.Fatal(err)
	}

	if len(submitted) != 2 {
		t.Fatalf("submitted %d parts, want 2", len(submitted))
	}

	wantEntries := map[string]string{
		filepath.Join(dir, "000_out.tar"): fileA,
		filepath.Join(dir, "001_out.tar"): fileB,
	}
	for partPath, srcPath := range wantEntries {
		names := readTarNames(t, partPath)
		if len(names) != 1 || names[0] != filepath.ToSlash(srcPath) {
			t.Errorf("%s entries = %v, want [%s]", filepath.Base(partPath), names, srcPath)
		}
	}
}

func TestProducerCompressedPart(t *testing.T) {
	for _, compression := range []string{"gz", "bz2", "xz"} {
		t.Run(compression, func(t *testing.T) {
			db := openTestDB(t)
			dir := t.TempDir()
			srcDir := t.TempDir()
			template := filepath.Join(dir, "out.tar."+compression)
			src := writeSourceFile(t, srcDir, "data.bin", 4096)

			p, err := NewProducer(db, template, 0, nil, compression, 4096, nil)
			if err != nil {
				t.Fatal(err)
			}
			scheduleInto(t, db, src, p.CurrentPartName())
			if err := p.Add(src); err != nil {
				t.Fatal(err)
			}
			if err := p.Close(true); err != nil {
				t.Fatal(err)
			}

			part := filepath.Join(dir, "000_out.tar."+compression)
			if _, err := os.Stat(part); err != nil {
				t.Fatalf("part missing: %v", err)
			}
		})
	}
}

func TestProducerTellGrowsWithData(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	srcDir := t.TempDir()
	template := filepath.Join(dir, "out.tar")
	const payload = 64 * 1024
	src := writeSourceFile(t, srcDir, "data.bin", payload)

	// Buffer far larger than the payload, as in production: Tell must
	// still track the tar stream, not the buffer's flush boundary,
	// or the split policy would never fire under the configured size.
	p, err := NewProducer(db, template, 0, nil, "", 8*1024*1024, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(false)

	if p.Tell() != 0 {
		t.Errorf("initial Tell = %d, want 0", p.Tell())
	}
	scheduleInto(t, db, src, p.CurrentPartName())
	if err := p.Add(src); err != nil {
		t.Fatal(err)
	}
	if p.Tell() < payload {
		t.Errorf("Tell = %d after adding a %d byte file, want at least the file size", p.Tell(), payload)
	}
}

func TestProducerDiscardLeavesNoCanonicalParts(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	srcDir := t.TempDir()
	template := filepath.Join(dir, "out.tar")
	src := writeSourceFile(t, srcDir, "data.bin", 512)

	p, err := NewProducer(db, template, 0, nil, "", 4096, func(string) {
		t.Error("discarded producer must not submit")
	})
	if err != nil {
		t.Fatal(err)
	}
	scheduleInto(t, db, src, p.CurrentPartName())
	if err := p.Add(src); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(false); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("output dir not empty after discard: %v", entries)
	}
}

func TestProducerEmptyPartIsDiscarded(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	template := filepath.Join(dir, "out.tar")

	// A resumed run that finds nothing new to archive must not publish an
	// empty trailing part.
	p, err := NewProducer(db, template, 1, nil, "", 4096, func(string) {
		t.Error("empty part must not be submitted")
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(true); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("output dir not empty: %v", entries)
	}
}

func readTarNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var names []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read tar %s: %v", path, err)
		}
		names = append(names, hdr.Name)
	}
	return names
}
