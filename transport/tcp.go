package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// outboxSize bounds the messages waiting for one peer. Further sends are
// dropped until the peer's writer catches up.
const outboxSize = 256

// TCP implements the engine transport over TCP. Every connection opens
// with each side sending its own id as the first frame; afterwards every
// frame read from the connection is attributed to that id.
//
// Send never touches the network. Each peer has an outbox drained by its
// own writer goroutine, which dials, handshakes and writes. A connection
// registered for a peer is written only by that peer's writer.
type TCP struct {
	id   string
	addr string
	l    *slog.Logger

	listener net.Listener
	reg      *Registry
	inbox    chan Packet

	dialTimeout      time.Duration
	writeTimeout     time.Duration
	handshakeTimeout time.Duration

	mu       sync.Mutex // guards outboxes and closing
	outboxes map[string]*outbox
	closed   chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

type outbox struct {
	id string
	q  chan []byte

	mu   sync.Mutex
	addr string
}

func (o *outbox) setAddr(addr string) {
	o.mu.Lock()
	o.addr = addr
	o.mu.Unlock()
}

func (o *outbox) address() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.addr
}

// NewTCP creates a transport that identifies itself as id. addr is the
// listen address; it may be empty for dial-only users such as clients.
func NewTCP(id, addr string, l *slog.Logger) *TCP {
	if l == nil {
		l = slog.Default()
	}
	return &TCP{
		id:               id,
		addr:             addr,
		l:                l,
		reg:              NewRegistry(),
		inbox:            make(chan Packet, inboxSize),
		dialTimeout:      200 * time.Millisecond,
		writeTimeout:     time.Second,
		handshakeTimeout: 2 * time.Second,
		outboxes:         make(map[string]*outbox),
		closed:           make(chan struct{}),
	}
}

// SetTimeouts changes the dial, write and handshake timeouts.
func (t *TCP) SetTimeouts(dial, write, handshake time.Duration) {
	t.dialTimeout = dial
	t.writeTimeout = write
	t.handshakeTimeout = handshake
}

func (t *TCP) Registry() *Registry { return t.reg }

// Listen binds the listen address and starts accepting connections.
// When the address is taken it falls back to any free port, like a
// developer box running several nodes.
func (t *TCP) Listen() error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		if !errors.Is(err, errAddrInUse) {
			return err
		}
		host, _, _ := net.SplitHostPort(t.addr)
		ln, err = net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return err
		}
		t.l.Warn("listen address in use, using a random port", slog.String("want", t.addr), slog.String("got", ln.Addr().String()))
	}
	t.listener = ln
	t.addr = ln.Addr().String()

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Addr returns the bound listen address.
func (t *TCP) Addr() string { return t.addr }

func (t *TCP) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			t.l.Warn("accept failed", slog.Any("error", err))
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if _, err := t.handshake(conn); err != nil {
				t.l.Debug("handshake failed", slog.String("remote", conn.RemoteAddr().String()), slog.Any("error", err))
				conn.Close()
			}
		}()
	}
}

// handshake exchanges ids, registers the connection and starts its
// reader. It returns the remote id. A connection the id was bound to
// before is closed.
func (t *TCP) handshake(conn net.Conn) (string, error) {
	_ = conn.SetDeadline(time.Now().Add(t.handshakeTimeout))
	if err := WriteFrame(conn, []byte(t.id)); err != nil {
		return "", err
	}
	raw, err := ReadFrame(conn)
	if err != nil {
		return "", err
	}
	_ = conn.SetDeadline(time.Time{})

	remote := string(raw)
	if remote == "" {
		return "", fmt.Errorf("%w: empty identity", ErrBadFrame)
	}
	if old := t.reg.Add(remote, conn); old != nil {
		t.l.Debug("replacing connection", slog.String("peer", remote))
		old.Close()
	}

	t.wg.Add(1)
	go t.readLoop(remote, conn)
	return remote, nil
}

func (t *TCP) readLoop(id string, conn net.Conn) {
	defer t.wg.Done()
	defer func() {
		t.reg.Remove(conn)
		conn.Close()
	}()
	for {
		data, err := ReadFrame(conn)
		if err != nil {
			return
		}
		select {
		case t.inbox <- Packet{From: id, Data: data}:
		case <-t.closed:
			return
		}
	}
}

// Dial connects to addr and returns the id the remote side declared. It
// blocks for the handshake.
func (t *TCP) Dial(addr string) (string, error) {
	select {
	case <-t.closed:
		return "", ErrClosed
	default:
	}
	conn, err := net.DialTimeout("tcp", addr, t.dialTimeout)
	if err != nil {
		return "", err
	}
	id, err := t.handshake(conn)
	if err != nil {
		conn.Close()
		return "", err
	}
	return id, nil
}

// Send queues msg for id and returns at once; delivery is best effort.
// Without a live connection the peer's writer dials addr, or the last
// address given for id. msg must not be modified afterwards.
func (t *TCP) Send(id, addr string, msg []byte) error {
	o, err := t.outbox(id, addr)
	if err != nil {
		return err
	}
	select {
	case o.q <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, id)
	}
}

// outbox returns the queue of id, starting its writer on first use.
func (t *TCP) outbox(id, addr string) (*outbox, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return nil, ErrClosed
	default:
	}

	o, ok := t.outboxes[id]
	if !ok {
		if addr == "" {
			if _, ok := t.reg.Conn(id); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
			}
		}
		o = &outbox{id: id, q: make(chan []byte, outboxSize)}
		t.outboxes[id] = o
		t.wg.Add(1)
		go t.writeLoop(o)
	}
	if addr != "" {
		o.setAddr(addr)
	}
	return o, nil
}

func (t *TCP) writeLoop(o *outbox) {
	defer t.wg.Done()
	for {
		select {
		case <-t.closed:
			return
		case msg := <-o.q:
			if err := t.write(o, msg); err != nil {
				t.l.Debug("send failed", slog.String("to", o.id), slog.Any("error", err))
			}
		}
	}
}

// write delivers one message, dialing first when needed. A failed write
// drops the connection so the next message reconnects.
func (t *TCP) write(o *outbox, msg []byte) error {
	conn, ok := t.reg.Conn(o.id)
	if !ok {
		addr := o.address()
		if addr == "" {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, o.id)
		}
		got, err := t.Dial(addr)
		if err != nil {
			return err
		}
		if got != o.id {
			t.l.Warn("peer declared a different id", slog.String("want", o.id), slog.String("got", got), slog.String("addr", addr))
		}
		if conn, ok = t.reg.Conn(o.id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, o.id)
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	if err := WriteFrame(conn, msg); err != nil {
		t.reg.Remove(conn)
		conn.Close()
		return err
	}
	return nil
}

// Receive returns the packets that arrived within timeout.
func (t *TCP) Receive(timeout time.Duration) []Packet {
	return receive(t.inbox, t.closed, timeout)
}

// Close stops every goroutine of the transport. Queued messages are
// dropped.
func (t *TCP) Close() error {
	var err error
	t.once.Do(func() {
		t.mu.Lock()
		close(t.closed)
		t.mu.Unlock()
		if t.listener != nil {
			err = t.listener.Close()
		}
		for _, id := range t.reg.IDs() {
			if c, ok := t.reg.Conn(id); ok {
				c.Close()
			}
		}
		t.wg.Wait()
	})
	return err
}
