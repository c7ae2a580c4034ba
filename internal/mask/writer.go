package mask

import (
	"context"
	"io"
)

// Stats counts what a Writer has processed so far.
type Stats struct {
	BytesIn      int64 `json:"bytes_in"`
	BytesOut     int64 `json:"bytes_out"`
	Matches      int64 `json:"matches"`       // valid windows, one per matching end digit
	DigitsMasked int64 `json:"digits_masked"` // digits replaced with Mask
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.BytesIn += o.BytesIn
	s.BytesOut += o.BytesOut
	s.Matches += o.Matches
	s.DigitsMasked += o.DigitsMasked
}

// held is how many of the most recent digits of a run stay buffered: a
// window ending at the next digit reaches back over MaxLength-1 of them.
const held = MaxLength - 1

// Writer masks card numbers in everything written to it and forwards the
// result to the wrapped writer.
//
// Bytes are held back only while a later digit could still complete a
// window that covers them, i.e. from the held-th most recent digit of the
// current run onward. Everything older is forwarded at the end of each
// Write. Call Flush (or Close) at end of stream to forward the remainder.
//
// A Writer is one stream and is not safe for concurrent use.
type Writer struct {
	w       io.Writer
	scan    Scanner
	pending []byte
	base    int64 // stream offset of pending[0]

	// offsets of the last held digits of the current run, oldest at
	// recent[head] once the ring is full
	recent [held]int64
	head   int
	n      int

	stats Stats
	err   error
}

// NewWriter returns a Writer forwarding masked output to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:       w,
		pending: make([]byte, 0, 2*MaxLength),
	}
}

// Write implements io.Writer. It always consumes all of p; an error from
// the wrapped writer is sticky.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	for _, c := range p {
		w.pending = append(w.pending, c)
		w.step(c)
	}
	w.stats.BytesIn += int64(len(p))

	if err := w.emit(w.flushable()); err != nil {
		return len(p), err
	}
	return len(p), nil
}

func (w *Writer) step(c byte) {
	class, length := w.scan.feed(c)
	switch class {
	case Digit:
		end := len(w.pending) - 1
		w.recent[w.head] = w.base + int64(end)
		w.head = (w.head + 1) % held
		if w.n < held {
			w.n++
		}
		if length > 0 {
			w.stats.Matches++
			w.stats.DigitsMasked += int64(w.scan.apply(w.pending, end, length))
		}
	case Other:
		w.head, w.n = 0, 0
	}
}

// flushable returns how many pending bytes no future match can rewrite.
func (w *Writer) flushable() int {
	if w.n == 0 {
		return len(w.pending)
	}
	oldest := w.recent[0]
	if w.n == held {
		oldest = w.recent[w.head]
	}
	return int(oldest - w.base)
}

func (w *Writer) emit(k int) error {
	if k <= 0 {
		return nil
	}
	n, err := w.w.Write(w.pending[:k])
	w.stats.BytesOut += int64(n)
	if err == nil && n < k {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.err = err
		return err
	}
	w.pending = append(w.pending[:0], w.pending[k:]...)
	w.base += int64(k)
	return nil
}

// Flush marks the end of the input. It forwards every pending byte and ends
// the current run, so bytes written afterwards never join a window with bytes
// written before. Call it only once the input is complete (Copy and Close do).
// Write already forwards everything a later match cannot reach, so chunked
// input needs no Flush between chunks; flushing per chunk leaves a card number
// that straddles the flush unmasked.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.emit(len(w.pending)); err != nil {
		return err
	}
	w.scan.Reset()
	w.head, w.n = 0, 0
	return nil
}

// Close flushes the Writer. It does not close the wrapped writer.
func (w *Writer) Close() error {
	return w.Flush()
}

// Pending returns the number of bytes held back.
func (w *Writer) Pending() int {
	return len(w.pending)
}

// Stats returns the counters for everything written so far.
func (w *Writer) Stats() Stats {
	return w.stats
}

// Bytes returns a masked copy of b.
func Bytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	var s Scanner
	for i, c := range out {
		if n := s.Feed(c); n > 0 {
			s.apply(out, i, n)
		}
	}
	return out
}

// String returns s with every card number masked.
func String(s string) string {
	return string(Bytes([]byte(s)))
}

// Copy streams src to dst through a Writer until EOF and flushes it. It
// checks ctx between reads; on cancellation the held-back bytes are
// dropped.
func Copy(ctx context.Context, dst io.Writer, src io.Reader) (Stats, error) {
	w := NewWriter(dst)
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return w.Stats(), err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return w.Stats(), err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return w.Stats(), rerr
		}
	}
	err := w.Flush()
	return w.Stats(), err
}
