package gossip

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/net/ipv4"
)

// ErrTimeout is returned by Transport.Recv when no datagram arrived
// within the poll window. Loops treat it as "nothing to do" and check
// for shutdown.
var ErrTimeout = errors.New("gossip: receive timed out")

// Transport is a connectionless best-effort datagram channel. No
// delivery guarantee, no ordering, no retransmission. Implementations
// must be safe for one sender and one receiver goroutine.
type Transport interface {
	// Send broadcasts one payload to every reachable peer.
	Send(payload []byte) error
	// Recv fills buf with the next inbound datagram, returning its
	// length, or ErrTimeout after the poll window elapses.
	Recv(buf []byte) (int, error)
	Close() error
}

// UDPConfig configures the multicast transport.
type UDPConfig struct {
	// Group is the multicast group and port, e.g. "224.1.1.1:5007".
	Group string
	// TTL is the multicast hop limit.
	TTL int
	// PollTimeout bounds each Recv call so shutdown is observed promptly.
	PollTimeout time.Duration
}

func (c *UDPConfig) applyDefaults() {
	if c.Group == "" {
		c.Group = "224.1.1.1:5007"
	}
	if c.TTL <= 0 {
		c.TTL = 2
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 100 * time.Millisecond
	}
}

// UDPTransport broadcasts on a UDP multicast group. Loopback is left
// enabled so multiple nodes on one host see each other; the node's
// self-filter discards its own datagrams.
type UDPTransport struct {
	send        *net.UDPConn
	recv        *net.UDPConn
	pollTimeout time.Duration
}

// NewUDPTransport joins the configured multicast group and prepares a
// send socket with the configured TTL.
func NewUDPTransport(cfg UDPConfig) (*UDPTransport, error) {
	cfg.applyDefaults()

	group, err := net.ResolveUDPAddr("udp4", cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast group %q: %w", cfg.Group, err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("group %q is not a multicast address", cfg.Group)
	}

	send, err := net.DialUDP("udp4", nil, group)
	if err != nil {
		return nil, fmt.Errorf("open send socket: %w", err)
	}
	p := ipv4.NewPacketConn(send)
	if err := p.SetMulticastTTL(cfg.TTL); err != nil {
		_ = send.Close()
		return nil, fmt.Errorf("set multicast ttl: %w", err)
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		_ = send.Close()
		return nil, fmt.Errorf("set multicast loopback: %w", err)
	}

	recv, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		_ = send.Close()
		return nil, fmt.Errorf("join multicast group: %w", err)
	}

	return &UDPTransport{send: send, recv: recv, pollTimeout: cfg.PollTimeout}, nil
}

func (t *UDPTransport) Send(payload []byte) error {
	_, err := t.send.Write(payload)
	return err
}

func (t *UDPTransport) Recv(buf []byte) (int, error) {
	if err := t.recv.SetReadDeadline(time.Now().Add(t.pollTimeout)); err != nil {
		return 0, err
	}
	n, _, err := t.recv.ReadFromUDP(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, ErrTimeout
		}
		return 0, err
	}
	return n, nil
}

func (t *UDPTransport) Close() error {
	return multierr.Append(t.send.Close(), t.recv.Close())
}
