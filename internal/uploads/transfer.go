package uploads

import (
	"context"
	"io"
)

// File is the material handed to a transfer.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

// Result is what the opaque transfer API resolves to.
type Result struct {
	URL         string
	Size        int64
	ContentType string
}

// Transfer is the physical upload transport. onProgress receives fractions
// in [0,1]; implementations may call it at any cadence, including never.
type Transfer interface {
	Upload(ctx context.Context, f File, onProgress func(float64)) (Result, error)
}

// progressReader counts bytes through a reader and reports the fraction of
// total consumed.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	fn    func(float64)
}

func newProgressReader(r io.Reader, total int64, fn func(float64)) *progressReader {
	return &progressReader{r: r, total: total, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 && p.fn != nil {
		p.read += int64(n)
		frac := float64(p.read) / float64(p.total)
		if frac > 1 {
			frac = 1
		}
		p.fn(frac)
	}
	return n, err
}
