package db

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, d *DB, c Command) []byte {
	t.Helper()
	raw, err := c.Encode()
	require.NoError(t, err)
	prev, err := d.Apply(raw)
	require.NoError(t, err)
	return prev
}

func TestSetGetDelete(t *testing.T) {
	d := New(32 << 20)

	prev := apply(t, d, Command{Op: OpSet, Key: "k", Value: []byte("v1")})
	assert.Empty(t, prev)
	v, ok := d.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	prev = apply(t, d, Command{Op: OpSet, Key: "k", Value: []byte("v2")})
	assert.Equal(t, []byte("v1"), prev)

	apply(t, d, Command{Op: OpDelete, Key: "k"})
	_, ok = d.Get("k")
	assert.False(t, ok)
	assert.Equal(t, uint64(3), d.Applied())
}

func TestApplyRejects(t *testing.T) {
	d := New(32 << 20)

	_, err := d.Apply([]byte("not msgpack at all"))
	assert.ErrorIs(t, err, ErrNotCommand)

	raw, err := Command{Op: "incr", Key: "k"}.Encode()
	require.NoError(t, err)
	_, err = d.Apply(raw)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	raw, err = Command{Op: OpSet, Key: "big", Value: bytes.Repeat([]byte("x"), 70*1024)}.Encode()
	require.NoError(t, err)
	_, err = d.Apply(raw)
	assert.ErrorIs(t, err, ErrTooLarge)

	assert.Equal(t, uint64(0), d.Applied())
}
