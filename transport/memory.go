package transport

import (
	"bytes"
	"sync"
	"time"
)

// Network connects Memory transports inside one process.
type Network struct {
	mu       sync.RWMutex
	nodes    map[string]*Memory
	isolated map[string]bool
}

func NewNetwork() *Network {
	return &Network{
		nodes:    make(map[string]*Memory),
		isolated: make(map[string]bool),
	}
}

// Join attaches a transport for id, replacing any earlier one.
func (n *Network) Join(id string) *Memory {
	m := &Memory{
		id:     id,
		net:    n,
		inbox:  make(chan Packet, inboxSize),
		closed: make(chan struct{}),
	}
	n.mu.Lock()
	n.nodes[id] = m
	n.mu.Unlock()
	return m
}

// Isolate cuts id off from every other node, or heals it.
func (n *Network) Isolate(id string, on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated[id] = on
}

func (n *Network) deliver(from, to string, msg []byte) error {
	n.mu.RLock()
	dst, ok := n.nodes[to]
	cut := n.isolated[from] || n.isolated[to]
	n.mu.RUnlock()
	if !ok {
		return ErrUnknownPeer
	}
	if cut {
		return nil
	}
	select {
	case dst.inbox <- Packet{From: from, Data: bytes.Clone(msg)}:
	case <-dst.closed:
	default:
		// full inbox behaves like a lost datagram
	}
	return nil
}

func (n *Network) leave(m *Memory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nodes[m.id] == m {
		delete(n.nodes, m.id)
	}
}

// Memory is an in-process transport. Addresses are ignored.
type Memory struct {
	id     string
	net    *Network
	inbox  chan Packet
	closed chan struct{}
	once   sync.Once
}

func (m *Memory) Send(id, _ string, msg []byte) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	return m.net.deliver(m.id, id, msg)
}

func (m *Memory) Receive(timeout time.Duration) []Packet {
	return receive(m.inbox, m.closed, timeout)
}

func (m *Memory) Close() error {
	m.once.Do(func() {
		close(m.closed)
		m.net.leave(m)
	})
	return nil
}
