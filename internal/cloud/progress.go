package cloud

import "io"

// progressReader wraps a seekable body and reports cumulative bytes read.
// The SDK may rewind the body when it retries, so the count is reset to the
// seek target rather than accumulated blindly.
type progressReader struct {
	io.ReadSeeker
	read     int64
	progress func(n int64)
}

func newProgressReader(r io.ReadSeeker, progress func(n int64)) io.ReadSeeker {
	if progress == nil {
		return r
	}
	return &progressReader{ReadSeeker: r, progress: progress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.ReadSeeker.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.progress(p.read)
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.ReadSeeker.Seek(offset, whence)
	if err == nil && whence == io.SeekStart {
		p.read = pos
	}
	return pos, err
}
