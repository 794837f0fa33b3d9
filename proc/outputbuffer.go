package proc

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel is a stable string identifier for one of the two output
// streams a Supervisor multiplexes.
type Channel string

const (
	// ChannelOut identifies the child's stdout.
	ChannelOut Channel = "out"
	// ChannelErr identifies the child's stderr.
	ChannelErr Channel = "err"
)

// channelBuffer is one append-only, seekable byte store. It starts
// in-memory and spills to a temp file once it exceeds
// outputSpillThreshold, so a long-running, chatty child doesn't grow
// this process's heap without bound.
type channelBuffer struct {
	mu       sync.Mutex
	mem      []byte
	spill    *os.File
	size     int64
	disabled bool
}

func (b *channelBuffer) append(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabled {
		return logicError("output is disabled for this process")
	}

	if b.spill != nil {
		if _, err := b.spill.Write(p); err != nil {
			return err
		}
		b.size += int64(len(p))
		return nil
	}

	if int64(len(b.mem)+len(p)) > outputSpillThreshold {
		f, err := os.CreateTemp("", "proc-output-"+uuid.NewString())
		if err != nil {
			// Fall back to growing in memory rather than losing output.
			b.mem = append(b.mem, p...)
			b.size += int64(len(p))
			return nil
		}
		if len(b.mem) > 0 {
			if _, err := f.Write(b.mem); err != nil {
				_ = f.Close()
				return err
			}
		}
		if _, err := f.Write(p); err != nil {
			_ = f.Close()
			return err
		}
		b.spill = f
		b.mem = nil
		b.size += int64(len(p))
		return nil
	}

	b.mem = append(b.mem, p...)
	b.size += int64(len(p))
	return nil
}

func (b *channelBuffer) bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabled {
		return nil, logicError("output is disabled for this process")
	}
	if b.spill == nil {
		out := make([]byte, len(b.mem))
		copy(out, b.mem)
		return out, nil
	}
	out := make([]byte, b.size)
	if _, err := b.spill.ReadAt(out, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return out, nil
}

// readAt fills buf starting at the given absolute offset, the way the
// iterator facade streams newly-arrived output without re-reading what a
// consumer has already seen. It returns io.EOF, with zero bytes read,
// when offset has reached the current append cursor; a partial read
// returns a nil error.
func (b *channelBuffer) readAt(offset int64, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabled {
		return 0, logicError("output is disabled for this process")
	}
	if offset >= b.size {
		return 0, io.EOF
	}
	if b.spill == nil {
		n := copy(buf, b.mem[offset:])
		return n, nil
	}
	n, err := b.spill.ReadAt(buf, offset)
	if errors.Is(err, io.EOF) && n > 0 {
		return n, nil
	}
	return n, err
}

func (b *channelBuffer) clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabled {
		return logicError("output is disabled for this process")
	}
	b.mem = nil
	b.size = 0
	if b.spill != nil {
		name := b.spill.Name()
		_ = b.spill.Close()
		_ = os.Remove(name)
		b.spill = nil
	}
	return nil
}

func (b *channelBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spill != nil {
		name := b.spill.Name()
		_ = b.spill.Close()
		_ = os.Remove(name)
		b.spill = nil
	}
}

// OutputBuffer holds the stdout and stderr byte stores for one supervised
// process. It is written only by the Supervisor; the iterator facade
// reads it through a private per-consumer offset, so rewinding the
// iterator re-reads history rather than mutating this buffer.
type OutputBuffer struct {
	mu             sync.Mutex
	out            channelBuffer
	err            channelBuffer
	lastOutputTime time.Time
}

// NewOutputBuffer returns an OutputBuffer. If disabled is true (the
// ModeOutputDisabled case), Add (of a non-empty chunk), Get, GetStream
// and Clear reject with a LogicError and no storage is ever allocated.
func NewOutputBuffer(disabled bool) *OutputBuffer {
	b := &OutputBuffer{lastOutputTime: time.Now()}
	b.out.disabled = disabled
	b.err.disabled = disabled
	return b
}

func (o *OutputBuffer) bufferFor(ch Channel) *channelBuffer {
	switch ch {
	case ChannelOut:
		return &o.out
	case ChannelErr:
		return &o.err
	default:
		panic("proc: unknown output channel " + string(ch))
	}
}

// Add appends bytes read from ch and updates the idle-timeout clock.
func (o *OutputBuffer) Add(ch Channel, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	o.mu.Lock()
	o.lastOutputTime = time.Now()
	o.mu.Unlock()
	return o.bufferFor(ch).append(p)
}

// Get returns all bytes accumulated on ch so far.
func (o *OutputBuffer) Get(ch Channel) ([]byte, error) {
	return o.bufferFor(ch).bytes()
}

// GetStream returns a rewound io.ReadCloser over all bytes accumulated on
// ch so far (a snapshot; it does not see output added afterward).
func (o *OutputBuffer) GetStream(ch Channel) (io.ReadCloser, error) {
	b, err := o.bufferFor(ch).bytes()
	if err != nil {
		return nil, err
	}
	return newNopCloser(&byteSliceReader{b: b}), nil
}

// readAt is the Iterator facade's private window into one channel's
// bytes, starting at offset. See channelBuffer.readAt.
func (o *OutputBuffer) readAt(ch Channel, offset int64, buf []byte) (int, error) {
	return o.bufferFor(ch).readAt(offset, buf)
}

// Clear truncates ch, resetting its append cursor to zero. Iterators keep
// their own read offsets, which Clear does not reset.
func (o *OutputBuffer) Clear(ch Channel) error {
	return o.bufferFor(ch).clear()
}

// LastOutputTime reports when bytes were most recently appended to either
// channel, used by check_timeout to enforce the idle timeout.
func (o *OutputBuffer) LastOutputTime() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastOutputTime
}

// Close releases any temp-file storage backing either channel.
func (o *OutputBuffer) Close() {
	o.out.close()
	o.err.close()
}

type byteSliceReader struct {
	b   []byte
	pos int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func (r *byteSliceReader) WriteTo(w io.Writer) (int64, error) {
	if r.pos >= len(r.b) {
		return 0, nil
	}
	n, err := w.Write(r.b[r.pos:])
	r.pos += n
	return int64(n), err
}
