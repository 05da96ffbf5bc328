package model

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrUnknownKind = errors.New("model: unknown message kind")

// Encode stamps the message kind and serializes it as a flat msgpack map.
func Encode(m Message) ([]byte, error) {
	m.header().Type = m.Kind()
	return msgpack.Marshal(m)
}

// Peek decodes only the header of a raw message.
func Peek(raw []byte) (Header, error) {
	var h Header
	if err := msgpack.Unmarshal(raw, &h); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Decode parses a raw message into its concrete struct.
func Decode(raw []byte) (Message, error) {
	h, err := Peek(raw)
	if err != nil {
		return nil, err
	}
	m, err := newMessage(h.Type)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("decode %q: %w", h.Type, err)
	}
	return m, nil
}

func newMessage(k Kind) (Message, error) {
	switch k {
	case KindRequestVote:
		return new(RequestVote), nil
	case KindRequestVoteReply:
		return new(RequestVoteReply), nil
	case KindAppendEntries:
		return new(AppendEntries), nil
	case KindAppendEntriesReply:
		return new(AppendEntriesReply), nil
	case KindClientQuery:
		return new(ClientQuery), nil
	case KindClientReply:
		return new(ClientReply), nil
	case KindClientRedirect:
		return new(ClientRedirect), nil
	case KindPeerUpdate:
		return new(PeerUpdate), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
}
