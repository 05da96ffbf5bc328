// Package storage persists the durable part of a node:
// term, vote, log, peer set and self id.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/raftd/model"
)

var (
	ErrCorrupted = errors.New("storage: state file corrupted")
	ErrLocked    = errors.New("storage: data directory locked by another process")
)

type State struct {
	Term     uint64            `msgpack:"term"`      // latest term server has seen
	VotedFor string            `msgpack:"voted_for"` // candidate that received vote in current term, empty if none
	Log      []model.Entry     `msgpack:"log"`
	Peers    map[string]string `msgpack:"peers"` // peer id -> address
	SelfID   string            `msgpack:"self_id"`
}

// Default is the state of a node that never ran before.
func Default() *State {
	return &State{
		Peers:  make(map[string]string),
		SelfID: uuid.NewString(),
	}
}

// Clone returns a copy that shares nothing with s.
func (s *State) Clone() *State {
	c := *s
	c.Log = slices.Clone(s.Log)
	c.Peers = maps.Clone(s.Peers)
	return &c
}

// encode lays out [xxhash64(body):8][body] where body is the snappy
// compressed msgpack of the state.
func encode(st *State) ([]byte, error) {
	raw, err := msgpack.Marshal(st)
	if err != nil {
		return nil, err
	}
	body := snappy.Encode(nil, raw)
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(out[:8], xxhash.Sum64(body))
	copy(out[8:], body)
	return out, nil
}

func decode(data []byte) (*State, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short header", ErrCorrupted)
	}
	body := data[8:]
	if xxhash.Sum64(body) != binary.BigEndian.Uint64(data[:8]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}
	raw, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	st := new(State)
	if err := msgpack.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if st.Peers == nil {
		st.Peers = make(map[string]string)
	}
	return st, nil
}
