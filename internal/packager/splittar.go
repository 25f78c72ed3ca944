package packager

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"

	"github.com/glaciertar/glaciertar/internal/statedb"
)

// Producer presents a continuous tar sink to the directory walker while
// rotating the underlying PartWriter whenever the orchestrator decides the
// current part is full. Each part is a standalone tar archive.
//
// The producer is single-goroutine: the walker owns it exclusively.
type Producer struct {
	db          *statedb.DB
	template    string // final-path template, extensions already applied
	key         []byte
	compression string // "", "gz", "bz2" or "xz"
	bufSize     int
	submit      SubmitFunc

	index   int // index of the currently open part
	entries int // files added to the currently open part

	pw    *PartWriter
	buf   *bufio.Writer
	count *countingWriter // sits between the compression stack and buf
	comp  io.WriteCloser  // nil when compression is off
	tw    *tar.Writer
}

// countingWriter counts bytes on their way into the buffered part file.
// The split policy reads this count: it must advance as the tar stream is
// produced, not when the I/O buffer below happens to flush.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}

// NewProducer opens a producer whose first part carries startIndex. The
// template is the full output path whose basename each part index is
// prefixed to.
func NewProducer(db *statedb.DB, template string, startIndex int, key []byte, compression string, bufSize int, submit SubmitFunc) (*Producer, error) {
	p := &Producer{
		db:          db,
		template:    template,
		key:         key,
		compression: compression,
		bufSize:     bufSize,
		submit:      submit,
		index:       startIndex - 1,
	}
	if err := p.openNext(); err != nil {
		return nil, err
	}
	return p, nil
}

// partPath returns the canonical path for part idx: the zero-padded index
// prefixed to the template basename, in the template directory.
func (p *Producer) partPath(idx int) string {
	return filepath.Join(filepath.Dir(p.template),
		fmt.Sprintf("%03d_%s", idx, filepath.Base(p.template)))
}

func (p *Producer) openNext() error {
	p.index++
	p.entries = 0

	pw, err := NewPartWriter(p.partPath(p.index), p.key, p.db, p.submit)
	if err != nil {
		return err
	}
	p.pw = pw
	p.buf = bufio.NewWriterSize(pw, p.bufSize)
	p.count = &countingWriter{w: p.buf}

	var sink io.Writer = p.count
	switch p.compression {
	case "":
		p.comp = nil
	case "gz":
		gz := gzip.NewWriter(p.count)
		p.comp = gz
		sink = gz
	case "bz2":
		bz, err := bzip2.NewWriter(p.count, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			p.pw.Close(false)
			return fmt.Errorf("failed to create bzip2 writer: %w", err)
		}
		p.comp = bz
		sink = bz
	case "xz":
		xw, err := xz.NewWriter(p.count)
		if err != nil {
			p.pw.Close(false)
			return fmt.Errorf("failed to create xz writer: %w", err)
		}
		p.comp = xw
		sink = xw
	default:
		p.pw.Close(false)
		return fmt.Errorf("unsupported compression %q", p.compression)
	}

	p.tw = tar.NewWriter(sink)
	return nil
}

// closeCurrent flushes and finalizes the open part. A part no file ever
// landed in is discarded rather than published: a resume over an unchanged
// tree must not emit an empty trailing part.
func (p *Producer) closeCurrent(committed bool) error {
	if p.pw == nil {
		return nil
	}
	if p.entries == 0 {
		committed = false
	}

	// On commit the tar trailer and compressor footer must land in the
	// part before it is published; on discard the temp file is deleted
	// anyway, so close errors only matter for the committed path.
	if committed {
		if err := p.tw.Close(); err != nil {
			p.pw.Close(false)
			return fmt.Errorf("failed to close tar stream: %w", err)
		}
		if p.comp != nil {
			if err := p.comp.Close(); err != nil {
				p.pw.Close(false)
				return fmt.Errorf("failed to close compression stream: %w", err)
			}
		}
		if err := p.buf.Flush(); err != nil {
			p.pw.Close(false)
			return fmt.Errorf("failed to flush part buffer: %w", err)
		}
	}

	err := p.pw.Close(committed)
	p.pw, p.buf, p.count, p.comp, p.tw = nil, nil, nil, nil, nil
	return err
}

// Rotate finalizes the current part (committed) and opens the next one.
func (p *Producer) Rotate() error {
	if err := p.closeCurrent(true); err != nil {
		return err
	}
	return p.openNext()
}

// Tell returns the bytes the tar/compression stack has emitted for the
// current part so far, counted ahead of the I/O buffer so the value tracks
// part growth regardless of the buffer size. Data still held inside the
// compression layer itself is not counted.
func (p *Producer) Tell() int64 {
	return p.count.n
}

// CurrentPartName returns the basename the currently open part will have
// when finalized.
func (p *Producer) CurrentPartName() string {
	return p.pw.Name()
}

// Add appends one file entry to the current tar stream in PAX format.
func (p *Producer) Add(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %q: %w", path, err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header for %q: %w", path, err)
	}
	hdr.Format = tar.FormatPAX
	hdr.Name = filepath.ToSlash(path)

	if err := p.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %q: %w", path, err)
	}

	if info.Mode().IsRegular() {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %q: %w", path, err)
		}
		defer file.Close()
		if _, err := io.Copy(p.tw, file); err != nil {
			return fmt.Errorf("failed to archive %q: %w", path, err)
		}
	}
	p.entries++
	return nil
}

// Close finalizes the current part: committed on normal exit, discarded when
// the producer is aborting. Idempotent.
func (p *Producer) Close(committed bool) error {
	return p.closeCurrent(committed)
}
