package network

import (
	"fmt"
	"net"
	"time"
)

// recvBufferSize is the fixed receive buffer; one datagram per read.
const recvBufferSize = 64 * 1024

// Port is a non-blocking UDP socket with a fixed receive buffer. Receive
// never blocks: when no datagram is pending it reports none and the caller
// moves on.
type Port struct {
	conn *net.UDPConn
	buf  [recvBufferSize]byte
}

// NewPort binds a UDP port on all interfaces.
func NewPort(port int) (*Port, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("binding udp port %d: %w", port, err)
	}
	return &Port{conn: conn}, nil
}

// recvPoll is the deadline applied to every receive. A deadline already in
// the past would fail even with a datagram queued, so the poll is a hair
// in the future instead.
const recvPoll = time.Millisecond

// Recv returns the next pending datagram, or ok=false when none is queued.
// The returned slice aliases the port's buffer and is valid until the next
// Recv.
func (p *Port) Recv() (data []byte, src *net.UDPAddr, ok bool) {
	if err := p.conn.SetReadDeadline(time.Now().Add(recvPoll)); err != nil {
		return nil, nil, false
	}
	n, addr, err := p.conn.ReadFromUDP(p.buf[:])
	if err != nil {
		return nil, nil, false
	}
	return p.buf[:n], addr, true
}

// Send transmits one datagram to addr. Errors are returned for logging;
// the caller decides whether the subscriber is kept.
func (p *Port) Send(data []byte, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolving subscriber address %q: %w", addr, err)
	}
	if _, err := p.conn.WriteToUDP(data, udpAddr); err != nil {
		return fmt.Errorf("sending to %q: %w", addr, err)
	}
	return nil
}

// LocalAddr returns the bound address.
func (p *Port) LocalAddr() net.Addr { return p.conn.LocalAddr() }

// Close releases the socket.
func (p *Port) Close() error { return p.conn.Close() }
