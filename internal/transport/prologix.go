package transport

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/prologix"
	"go.bug.st/serial"
)

// Prologix reaches a GPIB instrument through a Prologix GPIB-USB
// controller. The adapter strips and re-applies GPIB terminators itself,
// so commands are sent without a terminator of our own and responses end
// at EOI.
type Prologix struct {
	mu     sync.Mutex
	path   string
	addr   int
	port   serial.Port
	ctrl   *prologix.Controller
	closed bool
}

// OpenPrologix opens the adapter's virtual COM port and addresses the
// instrument at cfg.GPIBAddr, sending Selected Device Clear.
func OpenPrologix(cfg Config) (Transport, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200 // ignored by the adapter, but must be valid
	}
	port, err := openPort(cfg)
	if err != nil {
		return nil, err
	}
	ctrl, err := prologix.NewController(port, cfg.GPIBAddr, true)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: prologix on %s: %w", cfg.PortPath, err)
	}
	return &Prologix{
		path: cfg.PortPath,
		addr: cfg.GPIBAddr,
		port: port,
		ctrl: ctrl,
	}, nil
}

func (p *Prologix) Server() string  { return p.path }
func (p *Prologix) Address() string { return strconv.Itoa(p.addr) }

func (p *Prologix) Write(out []byte, timeout time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if err := p.ctrl.Command(string(out)); err != nil {
		return 0, fmt.Errorf("transport: prologix write: %w", err)
	}
	return len(out), nil
}

func (p *Prologix) WriteRead(out []byte, maxIn int, timeout time.Duration) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Response{}, ErrClosed
	}
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return Response{}, fmt.Errorf("transport: prologix timeout: %w", err)
	}

	s, err := p.ctrl.Query(string(out))
	if errors.Is(err, io.ErrNoProgress) {
		// The port returns empty reads once its timeout expires.
		return Response{Written: len(out)}, ErrTimeout
	}
	if err != nil {
		return Response{Written: len(out)}, fmt.Errorf("transport: prologix query: %w", err)
	}
	line := strings.TrimRight(s, "\r\n")
	if line == "" && s == "" {
		// The adapter answers ++read with nothing when the device stays silent.
		return Response{Written: len(out)}, ErrTimeout
	}

	resp := Response{Data: []byte(line), Written: len(out), EOM: EOMEnd}
	if maxIn > 0 && len(resp.Data) > maxIn {
		resp.Data = resp.Data[:maxIn]
		resp.EOM = EOMCount
	}
	return resp, nil
}

func (p *Prologix) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.port.Close()
}
