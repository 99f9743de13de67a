package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Keithley 648x RS-232 factory default.
const defaultBaudRate = 9600

type serialLink struct {
	serial.Port
}

func (l serialLink) setReadTimeout(d time.Duration) error {
	return l.SetReadTimeout(d)
}

// Serial writes drain at the line rate and cannot stall on a peer.
func (serialLink) setWriteTimeout(time.Duration) error { return nil }

// OpenSerial opens an RS-232 link to the instrument at 8N1.
func OpenSerial(cfg Config) (Transport, error) {
	port, err := openPort(cfg)
	if err != nil {
		return nil, err
	}
	t, err := newLineTransport(cfg.PortPath, "0", serialLink{port}, port, cfg.Terminator)
	if err != nil {
		port.Close()
		return nil, err
	}
	return t, nil
}

// openPort opens and flushes a serial port. Shared with the Prologix
// backend, whose USB adapter enumerates as a serial device.
func openPort(cfg Config) (serial.Port, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to open %s: %w", cfg.PortPath, err)
	}
	// Drop anything the instrument emitted before we were listening.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: failed to flush %s: %w", cfg.PortPath, err)
	}
	return port, nil
}
