// Package channel moves fixed-size packets between two processes over an OS
// pipe. Every packet is written with a single write smaller than PipeBuf, so
// the kernel delivers it whole or not at all.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// PipeBuf is the POSIX guaranteed-atomic pipe write size.
const PipeBuf = 4096

var (
	// ErrPacketTooLarge is returned when a packet type would not fit in one atomic write.
	ErrPacketTooLarge = errors.New("channel: packet exceeds atomic pipe write size")
	// ErrPacketNotFixed is returned when a packet type has no fixed binary layout.
	ErrPacketNotFixed = errors.New("channel: packet has no fixed size")
	// ErrClosed is returned by RecvAtomic when the peer is gone.
	ErrClosed = errors.New("channel: closed")
	// ErrShortWrite is returned when the kernel accepted only part of a packet.
	ErrShortWrite = errors.New("channel: short write")
)

// Direction says which half of a pipe an endpoint still owns.
type Direction int

const (
	Both Direction = iota
	Reader
	Writer
)

func (d Direction) String() string {
	switch d {
	case Reader:
		return "reader"
	case Writer:
		return "writer"
	default:
		return "both"
	}
}

var order = binary.NativeEndian

// PacketSize returns the encoded size of T, or an error if T cannot be sent
// atomically.
func PacketSize[T any]() (int, error) {
	var zero T
	n := binary.Size(zero)
	if n <= 0 {
		return 0, fmt.Errorf("%w: %T", ErrPacketNotFixed, zero)
	}
	if n >= PipeBuf {
		return 0, fmt.Errorf("%w: %T is %d bytes, limit is %d", ErrPacketTooLarge, zero, n, PipeBuf)
	}
	return n, nil
}

// Pipe is a unidirectional packet stream carrying values of type T.
type Pipe[T any] struct {
	r    *os.File
	w    *os.File
	dir  Direction
	size int
}

// New allocates a connected pipe. The packet size is checked before any OS
// resource is allocated.
func New[T any]() (*Pipe[T], error) {
	size, err := PacketSize[T]()
	if err != nil {
		return nil, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating pipe: %w", err)
	}

	return &Pipe[T]{r: r, w: w, dir: Both, size: size}, nil
}

// Open wraps an inherited file as an endpoint that already owns only one half.
func Open[T any](f *os.File, dir Direction) (*Pipe[T], error) {
	size, err := PacketSize[T]()
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("opening %s endpoint: nil file", dir)
	}

	p := &Pipe[T]{dir: dir, size: size}
	switch dir {
	case Reader:
		p.r = f
	case Writer:
		p.w = f
	default:
		panic("channel: Open requires Reader or Writer")
	}
	return p, nil
}

// Size returns the encoded packet size in bytes.
func (p *Pipe[T]) Size() int { return p.size }

// Direction returns which half the endpoint owns.
func (p *Pipe[T]) Direction() Direction { return p.dir }

// ReadEnd returns the read half, for handing to a child process before the
// parent calls BecomeWriter.
func (p *Pipe[T]) ReadEnd() *os.File { return p.r }

// WriteEnd returns the write half, for handing to a child process before the
// parent calls BecomeReader.
func (p *Pipe[T]) WriteEnd() *os.File { return p.w }

// BecomeReader closes the write half. It panics unless both halves are open.
func (p *Pipe[T]) BecomeReader() error {
	if p.dir != Both || p.r == nil || p.w == nil {
		panic(fmt.Sprintf("channel: BecomeReader on %s endpoint", p.dir))
	}
	err := p.w.Close()
	p.w = nil
	p.dir = Reader
	if err != nil {
		return fmt.Errorf("closing write end: %w", err)
	}
	return nil
}

// BecomeWriter closes the read half. It panics unless both halves are open.
func (p *Pipe[T]) BecomeWriter() error {
	if p.dir != Both || p.r == nil || p.w == nil {
		panic(fmt.Sprintf("channel: BecomeWriter on %s endpoint", p.dir))
	}
	err := p.r.Close()
	p.r = nil
	p.dir = Writer
	if err != nil {
		return fmt.Errorf("closing read end: %w", err)
	}
	return nil
}

// SendAtomic writes one packet with a single write.
func (p *Pipe[T]) SendAtomic(pk T) error {
	if p.w == nil {
		panic("channel: SendAtomic without write end")
	}

	buf, err := binary.Append(make([]byte, 0, p.size), order, pk)
	if err != nil {
		return fmt.Errorf("encoding packet: %w", err)
	}

	n, err := p.w.Write(buf)
	if err != nil {
		return fmt.Errorf("channel: send: %w", err)
	}
	if n != p.size {
		return ErrShortWrite
	}
	return nil
}

// RecvAtomic blocks until one full packet arrives. A closed or broken peer is
// reported as ErrClosed. A read deadline set with SetReadDeadline surfaces as
// os.ErrDeadlineExceeded and leaves the pipe usable.
func (p *Pipe[T]) RecvAtomic() (T, error) {
	var pk T
	if p.r == nil {
		panic("channel: RecvAtomic without read end")
	}

	buf := make([]byte, p.size)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return pk, err
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return pk, ErrClosed
		}
		return pk, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	if _, err := binary.Decode(buf, order, &pk); err != nil {
		return pk, fmt.Errorf("decoding packet: %w", err)
	}
	return pk, nil
}

// SetReadDeadline bounds the next RecvAtomic. A zero time clears the deadline.
func (p *Pipe[T]) SetReadDeadline(t time.Time) error {
	if p.r == nil {
		panic("channel: SetReadDeadline without read end")
	}
	return p.r.SetReadDeadline(t)
}

// Close releases whichever halves are still open. It is safe to call twice.
func (p *Pipe[T]) Close() error {
	var errs []error
	if p.r != nil {
		errs = append(errs, p.r.Close())
		p.r = nil
	}
	if p.w != nil {
		errs = append(errs, p.w.Close())
		p.w = nil
	}
	return errors.Join(errs...)
}
