// Package transport moves opaque framed messages between peer
// identities. The consensus engine only sees Send and Receive; all
// connection handling, framing and identity resolution stays here.
package transport

import (
	"errors"
	"time"
)

var (
	ErrClosed        = errors.New("transport: closed")
	ErrUnknownPeer   = errors.New("transport: no connection or address for peer")
	ErrFrameTooLarge = errors.New("transport: frame too large")
	ErrBadFrame      = errors.New("transport: malformed frame")
	ErrQueueFull     = errors.New("transport: peer queue full")
)

// Packet is one message attributed to the peer it came from.
type Packet struct {
	From string
	Data []byte
}

// inboxSize bounds how many packets may wait for the engine loop.
const inboxSize = 1024

// receive waits up to timeout for the first packet, then drains whatever
// else is already queued without blocking.
func receive(inbox <-chan Packet, closed <-chan struct{}, timeout time.Duration) []Packet {
	var first Packet
	if timeout <= 0 {
		select {
		case first = <-inbox:
		default:
			return nil
		}
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case first = <-inbox:
		case <-timer.C:
			return nil
		case <-closed:
			return nil
		}
	}

	out := []Packet{first}
	for {
		select {
		case p := <-inbox:
			out = append(out, p)
		default:
			return out
		}
	}
}
