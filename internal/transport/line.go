package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// link is a byte stream whose reads can be bounded in time.
type link interface {
	io.ReadWriter
	// setReadTimeout bounds the next Read. A Read that times out returns
	// (0, nil) or a net.Error with Timeout() set.
	setReadTimeout(d time.Duration) error
	// setWriteTimeout bounds the next Write in the same way.
	setWriteTimeout(d time.Duration) error
}

// lineTransport frames commands and responses as terminator-delimited
// ASCII lines over a link. It backs both the serial and TCP transports.
type lineTransport struct {
	mu      sync.Mutex
	server  string
	address string
	link    link
	closer  io.Closer
	outTerm string
	inTerm  byte

	pending []byte // bytes received after the last terminator
	closed  bool
}

func newLineTransport(server, address string, l link, c io.Closer, term string) (*lineTransport, error) {
	t, err := terminator(term)
	if err != nil {
		return nil, err
	}
	return &lineTransport{
		server:  server,
		address: address,
		link:    l,
		closer:  c,
		outTerm: t,
		inTerm:  t[len(t)-1],
	}, nil
}

func (t *lineTransport) Server() string  { return t.server }
func (t *lineTransport) Address() string { return t.address }

func (t *lineTransport) Write(out []byte, timeout time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	return t.writeLine(out, timeout)
}

func (t *lineTransport) WriteRead(out []byte, maxIn int, timeout time.Duration) (Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Response{}, ErrClosed
	}

	// Stale bytes belong to an earlier, abandoned exchange.
	t.pending = t.pending[:0]

	n, err := t.writeLine(out, timeout)
	if err != nil {
		return Response{Written: n}, err
	}
	data, eom, err := t.readLine(maxIn, timeout)
	return Response{Data: data, Written: n, EOM: eom}, err
}

func (t *lineTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.closer.Close()
}

// writeLine writes out plus the output terminator. The returned count
// excludes the terminator so callers can compare it with len(out).
func (t *lineTransport) writeLine(out []byte, timeout time.Duration) (int, error) {
	if err := t.link.setWriteTimeout(timeout); err != nil {
		return 0, fmt.Errorf("transport: set timeout on %s: %w", t.server, err)
	}

	frame := make([]byte, 0, len(out)+len(t.outTerm))
	frame = append(frame, out...)
	frame = append(frame, t.outTerm...)

	n, err := t.link.Write(frame)
	if n > len(out) {
		n = len(out)
	}
	if err != nil {
		if isTimeout(err) {
			return n, ErrTimeout
		}
		return n, fmt.Errorf("transport: write %s: %w", t.server, err)
	}
	return n, nil
}

// readLine collects bytes until the input terminator, maxIn bytes, or the
// deadline. Carriage returns and line feeds around the line are stripped.
func (t *lineTransport) readLine(maxIn int, timeout time.Duration) ([]byte, EOMReason, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 64)

	for {
		if i := bytes.IndexByte(t.pending, t.inTerm); i >= 0 {
			line := trimLine(t.pending[:i])
			t.pending = append(t.pending[:0], t.pending[i+1:]...)
			if maxIn > 0 && len(line) > maxIn {
				return line[:maxIn], EOMCount, nil
			}
			return line, EOMDelimiter, nil
		}
		if maxIn > 0 && len(t.pending) >= maxIn {
			line := append([]byte(nil), t.pending[:maxIn]...)
			t.pending = append(t.pending[:0], t.pending[maxIn:]...)
			return line, EOMCount, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, 0, ErrTimeout
		}
		if err := t.link.setReadTimeout(remaining); err != nil {
			return nil, 0, fmt.Errorf("transport: set timeout on %s: %w", t.server, err)
		}
		n, err := t.link.Read(buf)
		if n > 0 {
			t.pending = append(t.pending, buf[:n]...)
		}
		if err != nil {
			if isTimeout(err) {
				return nil, 0, ErrTimeout
			}
			return nil, 0, fmt.Errorf("transport: read %s: %w", t.server, err)
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func trimLine(b []byte) []byte {
	return append([]byte(nil), bytes.Trim(b, "\r\n")...)
}
