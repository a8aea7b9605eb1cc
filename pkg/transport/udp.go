package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// MaxDatagramSize is the largest datagram the transport will read.
const MaxDatagramSize = 65535

// UDPTransport is the default Transport: one unconnected UDP socket shared
// by every server the client talks to.
type UDPTransport struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	deliver DeliverFunc
	logger  *slog.Logger
	started bool
	closed  bool
	done    chan struct{}
}

// UDPConfig configures a UDPTransport.
type UDPConfig struct {
	// LocalAddress is the local bind address, ":0" when empty.
	LocalAddress string

	// Logger is the optional logger for transport-level problems.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// NewUDP creates a UDP transport bound to cfg.LocalAddress.
func NewUDP(cfg UDPConfig) (*UDPTransport, error) {
	local := cfg.LocalAddress
	if local == "" {
		local = ":0"
	}
	addr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("udp transport: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp transport: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &UDPTransport{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// OnDeliver installs the receive callback.
func (t *UDPTransport) OnDeliver(fn DeliverFunc) {
	t.mu.Lock()
	t.deliver = fn
	t.mu.Unlock()
}

// Start launches the read loop.
func (t *UDPTransport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.started {
		return nil
	}
	t.started = true
	go t.readLoop()
	return nil
}

func (t *UDPTransport) readLoop() {
	defer close(t.done)
	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("udp read failed", "error", err)
			continue
		}

		t.mu.Lock()
		deliver := t.deliver
		t.mu.Unlock()
		if deliver == nil {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		addr := Addr{Family: IPv4, Bytes: from.IP, Port: uint16(from.Port)}
		if v4 := from.IP.To4(); v4 != nil {
			addr.Bytes = v4
		} else {
			addr.Family = IPv6
			addr.Bytes = from.IP.To16()
		}
		deliver(addr, data)
	}
}

// Send transmits one datagram.
func (t *UDPTransport) Send(to Addr, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if _, err := t.conn.WriteToUDP(data, to.UDPAddr()); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Close stops the read loop and closes the socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.started
	t.mu.Unlock()

	err := t.conn.Close()
	if started {
		<-t.done
	}
	return err
}
