package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	server "github.com/raftd"
	"github.com/raftd/admin"
	"github.com/raftd/db"
)

type fixedNode struct {
	st server.Status
}

func (n fixedNode) Status() server.Status { return n.st }

func TestAdminStatusAndGet(t *testing.T) {
	kv := db.New(32 * 1024 * 1024)
	cmd, err := db.Command{Op: db.OpSet, Key: "k", Value: []byte("v")}.Encode()
	require.NoError(t, err)
	_, err = kv.Apply(cmd)
	require.NoError(t, err)

	node := fixedNode{st: server.Status{
		ID:          "a",
		Role:        "leader",
		Term:        3,
		Leader:      "a",
		CommitIndex: 7,
		Peers:       map[string]string{"a": "127.0.0.1:9289"},
	}}
	srv, err := admin.Serve("127.0.0.1:0", admin.NewService(node, kv), nil)
	require.NoError(t, err)
	defer srv.Close()

	a, err := DialAdmin(srv.Addr())
	require.NoError(t, err)
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, node.st, st)

	v, ok, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, ok, err = a.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
