// Package transport moves SCPI lines between the driver and an instrument.
//
// Every backend is synchronous: a call blocks until the bytes are written
// (and, for WriteRead, a response line has arrived) or the timeout expires.
// Responses are returned with the frame terminator already stripped.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EOMReason reports why a read terminated. Values may be OR-ed together.
type EOMReason int

const (
	// EOMCount means the caller's byte limit was reached first.
	EOMCount EOMReason = 1 << iota
	// EOMDelimiter means the input terminator was seen.
	EOMDelimiter
	// EOMEnd means the device signalled end of message (GPIB EOI).
	EOMEnd
)

func (r EOMReason) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	if r&EOMCount != 0 {
		parts = append(parts, "count")
	}
	if r&EOMDelimiter != 0 {
		parts = append(parts, "delimiter")
	}
	if r&EOMEnd != 0 {
		parts = append(parts, "end")
	}
	return strings.Join(parts, "|")
}

// ErrTimeout is returned when no complete response arrived in time.
var ErrTimeout = errors.New("transport: timeout")

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport: closed")

// Response is the result of a WriteRead exchange.
type Response struct {
	Data    []byte    // response line without terminator
	Written int       // bytes of the command actually written
	EOM     EOMReason // why the read stopped
}

// Transport is the link contract the driver core relies on.
type Transport interface {
	// Server names the underlying link (port path, host, adapter).
	Server() string
	// Address is the device address on that link ("0" when not addressed).
	Address() string
	// Write sends out followed by the output terminator and returns the
	// number of command bytes written.
	Write(out []byte, timeout time.Duration) (int, error)
	// WriteRead sends out and reads one response line of at most maxIn bytes.
	WriteRead(out []byte, maxIn int, timeout time.Duration) (Response, error)
	// Close releases the link.
	Close() error
}

// Config selects and parameterizes a transport backend.
type Config struct {
	Kind       string `yaml:"transport" json:"transport"`   // "serial", "tcp", "prologix" or "sim"
	PortPath   string `yaml:"port_path" json:"portPath"`    // e.g. /dev/ttyUSB0
	BaudRate   int    `yaml:"baud_rate" json:"baudRate"`    // serial and prologix
	Address    string `yaml:"address" json:"address"`       // tcp host:port
	GPIBAddr   int    `yaml:"gpib_addr" json:"gpibAddr"`    // prologix primary address
	Terminator string `yaml:"terminator" json:"terminator"` // "CR", "LF", "CRLF" or "LFCR"
	Model      string `yaml:"-" json:"-"`                   // sim only: instrument model to emulate
}

// Dial opens the transport described by cfg.
func Dial(cfg Config) (Transport, error) {
	switch strings.ToLower(cfg.Kind) {
	case "serial", "":
		return OpenSerial(cfg)
	case "tcp":
		return DialTCP(cfg)
	case "prologix":
		return OpenPrologix(cfg)
	case "sim", "demo":
		return NewSim(cfg.Model), nil
	default:
		return nil, fmt.Errorf("transport: unknown kind %q", cfg.Kind)
	}
}

// terminator maps a config name to the byte sequence put on the wire.
// The Keithley RS-232 default is CR.
func terminator(name string) (string, error) {
	switch strings.ToUpper(name) {
	case "", "CR":
		return "\r", nil
	case "LF":
		return "\n", nil
	case "CRLF":
		return "\r\n", nil
	case "LFCR":
		return "\n\r", nil
	default:
		return "", fmt.Errorf("transport: unknown terminator %q", name)
	}
}
