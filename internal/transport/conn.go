// Package transport provides the UDP datagram socket relftp's reliability
// layer sends and receives framed packets over.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aetherlabs/relftp/internal/protocol"
)

// noDeadline clears any previously set read deadline.
var noDeadline = time.Time{}

const (
	// DefaultReadBufferSize is the default OS socket read buffer size.
	DefaultReadBufferSize = 2 * 1024 * 1024

	// DefaultWriteBufferSize is the default OS socket write buffer size.
	DefaultWriteBufferSize = 2 * 1024 * 1024

	// maxDatagramSize bounds a single UDP read; large enough for any
	// pktSize this protocol negotiates plus header overhead.
	maxDatagramSize = 65536
)

// PacketConn is the interface the reliability layer's sender/receiver state
// machines depend on, so that they can be exercised in tests against an
// in-memory fake instead of a real kernel UDP socket.
type PacketConn interface {
	SendTo(pkt *protocol.Packet, addr *net.UDPAddr) error
	ReceiveFrom(ctx context.Context) (*protocol.Packet, *net.UDPAddr, error)
	Close() error
}

// Conn wraps a *net.UDPConn, framing relftp packets on the way in and out.
type Conn struct {
	udpConn *net.UDPConn

	mu       sync.RWMutex
	closed   bool
	readBuf  []byte
}

// Listen opens a UDP socket bound to address (use ":0" for an ephemeral
// per-transfer data port, as the session bootstrap does).
func Listen(address string) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", address, err)
	}

	udpConn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", address, err)
	}

	_ = udpConn.SetReadBuffer(DefaultReadBufferSize)
	_ = udpConn.SetWriteBuffer(DefaultWriteBufferSize)

	return &Conn{udpConn: udpConn, readBuf: make([]byte, maxDatagramSize)}, nil
}

// LocalAddr returns the locally bound UDP address.
func (c *Conn) LocalAddr() *net.UDPAddr {
	return c.udpConn.LocalAddr().(*net.UDPAddr)
}

// SendTo encodes pkt and writes it to addr.
func (c *Conn) SendTo(pkt *protocol.Packet, addr *net.UDPAddr) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("transport: connection closed")
	}
	c.mu.RUnlock()

	_, err := c.udpConn.WriteToUDP(pkt.Encode(), addr)
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// ReceiveFrom blocks until a packet arrives, ctx is done, or a read
// deadline set via ctx's deadline expires. Malformed datagrams are
// silently ignored per the protocol's loss model, and the read loop
// continues until a well-formed packet arrives or the context ends.
func (c *Conn) ReceiveFrom(ctx context.Context) (*protocol.Packet, *net.UDPAddr, error) {
	for {
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return nil, nil, fmt.Errorf("transport: connection closed")
		}
		c.mu.RUnlock()

		if deadline, ok := ctx.Deadline(); ok {
			if err := c.udpConn.SetReadDeadline(deadline); err != nil {
				return nil, nil, fmt.Errorf("transport: set deadline: %w", err)
			}
		} else {
			_ = c.udpConn.SetReadDeadline(noDeadline)
		}

		// Cancelling ctx forces the pending read to return immediately.
		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			_ = c.udpConn.SetReadDeadline(time.Now())
			close(fired)
		})
		n, addr, err := c.udpConn.ReadFromUDP(c.readBuf)
		if !stop() {
			<-fired
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			default:
				return nil, nil, fmt.Errorf("transport: read: %w", err)
			}
		}

		pkt, err := protocol.Decode(c.readBuf[:n])
		if err != nil {
			// Malformed datagram: ignore and keep waiting.
			continue
		}
		return pkt, addr, nil
	}
}

// Close closes the underlying UDP socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.udpConn.Close()
}
