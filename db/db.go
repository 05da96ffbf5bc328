package db

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrNotCommand     = errors.New("db: payload is not a command")
	ErrUnknownCommand = errors.New("db: unknown command")
	ErrTooLarge       = errors.New("db: key and value too large")
)

// fastcache silently drops entries above this size
const maxEntrySize = 64*1024 - 16

const (
	OpSet    = "set"
	OpDelete = "delete"
)

// Command is the client payload understood by the key/value store.
type Command struct {
	Op    string `msgpack:"op"`
	Key   string `msgpack:"key"`
	Value []byte `msgpack:"value,omitempty"`
}

func (c Command) Encode() ([]byte, error) {
	return msgpack.Marshal(&c)
}

type DB struct {
	c       *fastcache.Cache
	applied atomic.Uint64
}

func (d *DB) set(key []byte, value []byte) {
	d.c.Set(key, value)
}

func (d *DB) get(key []byte) ([]byte, bool) {
	return d.c.HasGet(nil, key)
}

// Apply executes one committed command and returns the previous value
// of the key.
func (d *DB) Apply(raw []byte) ([]byte, error) {
	var cmd Command
	if err := msgpack.Unmarshal(raw, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCommand, err)
	}
	key := []byte(cmd.Key)
	prev, _ := d.get(key)

	switch cmd.Op {
	case OpSet:
		if len(key)+len(cmd.Value) > maxEntrySize {
			return nil, ErrTooLarge
		}
		d.set(key, cmd.Value)
	case OpDelete:
		d.c.Del(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Op)
	}
	d.applied.Add(1)
	return prev, nil
}

// Get reads the local copy of key. It may lag behind the leader.
func (d *DB) Get(key string) ([]byte, bool) {
	return d.get([]byte(key))
}

// Applied counts commands applied so far.
func (d *DB) Applied() uint64 {
	return d.applied.Load()
}

// New returns a store bounded to roughly maxBytes of memory.
func New(maxBytes int) *DB {
	return &DB{
		c: fastcache.New(maxBytes),
	}
}
