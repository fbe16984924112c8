// Package progress decorates byte streams with percentage callbacks and
// cooperative cancellation. Every long-running transfer in the launcher
// goes through a Reader so observers see progress and cancellation is
// honoured at each read.
package progress

import (
	"context"
	"io"

	"github.com/tinwren/launchpit/internal/data"
)

// Func receives an integer percentage in [0,100]. It is invoked only when
// the percentage changes from the previous emission.
type Func func(pct int)

// Reader wraps an inner reader with cancellation checks and progress
// reporting. It is strictly read-only; callers that need seeking or
// writing hold the underlying stream themselves.
type Reader struct {
	inner  io.Reader
	ctx    context.Context
	emit   Func
	length int64
	pos    int64
	last   int
}

// NewReader builds a Reader over inner. length is the expected total byte
// count; if negative and inner is seekable the length is discovered from
// the stream itself. The callback fires once immediately with the
// percentage for position zero.
func NewReader(ctx context.Context, inner io.Reader, length int64, emit Func) *Reader {
	if length < 0 {
		if s, ok := inner.(io.Seeker); ok {
			if end, err := s.Seek(0, io.SeekEnd); err == nil {
				if _, err := s.Seek(0, io.SeekStart); err == nil {
					length = end
				}
			}
		}
	}
	r := &Reader{
		inner:  inner,
		ctx:    ctx,
		emit:   emit,
		length: length,
		last:   -1,
	}
	r.emitProgress()
	return r
}

// Read checks for cancellation before touching the inner stream. A
// cancelled read fails with data.ErrCancelled rather than returning
// truncated data as success.
func (r *Reader) Read(p []byte) (int, error) {
	if r.ctx.Err() != nil {
		return 0, data.ErrCancelled
	}
	n, err := r.inner.Read(p)
	r.pos += int64(n)
	r.emitProgress()
	return n, err
}

func (r *Reader) emitProgress() {
	if r.emit == nil || r.length <= 0 {
		return
	}
	pct := int(r.pos * 100 / r.length)
	if pct > 100 {
		pct = 100
	}
	if pct != r.last {
		r.last = pct
		r.emit(pct)
	}
}
