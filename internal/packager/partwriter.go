// Package packager produces the split tar parts: a streaming tar encoder
// whose output rotates across fixed-size part files, each optionally
// encrypted and atomically published on finalize.
package packager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20"

	"github.com/glaciertar/glaciertar/internal/crypto"
	"github.com/glaciertar/glaciertar/internal/statedb"
)

// SubmitFunc receives the path of a finalized part ready for upload. It may
// block; the producer goroutine is the only caller.
type SubmitFunc func(path string)

// PartWriter is the byte sink for one part: it streams writes through an
// optional ChaCha20 cipher into a temporary file and, on committed close,
// renames the temp file to the canonical part name, records PACKAGED and
// hands the part to the upload queue.
//
// Write and Close must be called from a single goroutine.
type PartWriter struct {
	tmpPath   string
	finalPath string
	file      *os.File
	cipher    *chacha20.Cipher
	scratch   []byte
	written   int64
	db        *statedb.DB
	submit    SubmitFunc
	closed    bool
}

// NewPartWriter opens a part writer for finalPath. The temporary file lives
// in the same directory so the finalize rename stays on one filesystem.
// A nil key disables encryption.
func NewPartWriter(finalPath string, key []byte, db *statedb.DB, submit SubmitFunc) (*PartWriter, error) {
	var cipher *chacha20.Cipher
	if key != nil {
		var err error
		cipher, err = crypto.NewCipher(key, finalPath)
		if err != nil {
			return nil, err
		}
	}

	dir := filepath.Dir(finalPath)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.part", filepath.Base(finalPath), uuid.NewString()[:8]))
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create part temp file: %w", err)
	}

	return &PartWriter{
		tmpPath:   tmpPath,
		finalPath: finalPath,
		file:      file,
		cipher:    cipher,
		db:        db,
		submit:    submit,
	}, nil
}

// Write streams b through the cipher (when present) and appends it to the
// temporary file. Implements io.Writer.
func (w *PartWriter) Write(b []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed part %q", w.finalPath)
	}

	out := b
	if w.cipher != nil {
		if cap(w.scratch) < len(b) {
			w.scratch = make([]byte, len(b))
		}
		out = w.scratch[:len(b)]
		w.cipher.XORKeyStream(out, b)
	}

	n, err := w.file.Write(out)
	w.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to write part data: %w", err)
	}
	return n, nil
}

// Tell returns the number of bytes written to the part so far. ChaCha20 is
// length-preserving, so this equals the plaintext byte count.
func (w *PartWriter) Tell() int64 {
	return w.written
}

// Name returns the basename the part will have once finalized.
func (w *PartWriter) Name() string {
	return filepath.Base(w.finalPath)
}

// FinalPath returns the canonical path of the finalized part.
func (w *PartWriter) FinalPath() string {
	return w.finalPath
}

// Close finalizes the part. When committed, the temporary file is renamed to
// the canonical name, PACKAGED is recorded, and the part is submitted for
// upload — in that order, so the upload queue only ever sees complete files
// whose state is already durable. When not committed the temporary file is
// deleted and nothing is notified. Idempotent.
func (w *PartWriter) Close(committed bool) error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("failed to close part temp file: %w", err)
	}

	if !committed {
		os.Remove(w.tmpPath)
		return nil
	}

	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("failed to finalize part %q: %w", w.finalPath, err)
	}
	if err := w.db.RecordPartState(w.Name(), statedb.StatusPackaged); err != nil {
		return err
	}
	if w.submit != nil {
		w.submit(w.finalPath)
	}
	return nil
}
