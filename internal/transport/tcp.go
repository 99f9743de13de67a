package transport

import (
	"fmt"
	"net"
	"time"
)

const dialTimeout = 5 * time.Second

type tcpLink struct {
	net.Conn
}

func (l tcpLink) setReadTimeout(d time.Duration) error {
	return l.SetReadDeadline(time.Now().Add(d))
}

func (l tcpLink) setWriteTimeout(d time.Duration) error {
	return l.SetWriteDeadline(time.Now().Add(d))
}

// DialTCP connects to a serial-to-Ethernet server (or a LAN instrument
// socket) at cfg.Address.
func DialTCP(cfg Config) (Transport, error) {
	conn, err := net.DialTimeout("tcp", cfg.Address, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to dial %s: %w", cfg.Address, err)
	}
	t, err := newLineTransport(cfg.Address, "0", tcpLink{conn}, conn, cfg.Terminator)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}
