package gossip

import (
	"net"
	"sync"
	"time"
)

// Hub is an in-process datagram fabric for tests and simulation. Every
// Send fans out to all attached transports, including the sender's own
// (matching multicast loopback), and drops silently when a receiver
// lags, matching the lossy wire contract.
type Hub struct {
	mu   sync.Mutex
	subs map[*ChannelTransport]struct{}
}

// NewHub returns an empty fabric.
func NewHub() *Hub {
	return &Hub{subs: make(map[*ChannelTransport]struct{})}
}

// Transport attaches a new endpoint to the hub.
func (h *Hub) Transport() *ChannelTransport {
	t := &ChannelTransport{
		hub:         h,
		ch:          make(chan []byte, 64),
		done:        make(chan struct{}),
		pollTimeout: 100 * time.Millisecond,
	}
	h.mu.Lock()
	h.subs[t] = struct{}{}
	h.mu.Unlock()
	return t
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for t := range h.subs {
		select {
		case t.ch <- append([]byte(nil), payload...):
		default:
			// receiver lagging; datagrams are lossy by contract
		}
	}
}

func (h *Hub) detach(t *ChannelTransport) {
	h.mu.Lock()
	delete(h.subs, t)
	h.mu.Unlock()
}

// ChannelTransport is the Hub-backed Transport implementation.
type ChannelTransport struct {
	hub         *Hub
	ch          chan []byte
	pollTimeout time.Duration

	once sync.Once
	done chan struct{}
}

func (t *ChannelTransport) Send(payload []byte) error {
	select {
	case <-t.done:
		return net.ErrClosed
	default:
	}
	t.hub.broadcast(payload)
	return nil
}

func (t *ChannelTransport) Recv(buf []byte) (int, error) {
	select {
	case p := <-t.ch:
		return copy(buf, p), nil
	case <-t.done:
		return 0, net.ErrClosed
	case <-time.After(t.pollTimeout):
		return 0, ErrTimeout
	}
}

func (t *ChannelTransport) Close() error {
	t.once.Do(func() {
		t.hub.detach(t)
		close(t.done)
	})
	return nil
}
