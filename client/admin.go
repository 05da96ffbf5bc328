package client

import (
	"context"

	rpcx "github.com/smallnest/rpcx/client"

	server "github.com/raftd"
	"github.com/raftd/admin"
)

// Admin is an rpcx connection to a node's admin service.
type Admin struct {
	xc rpcx.XClient
}

func DialAdmin(addr string) (*Admin, error) {
	d, err := rpcx.NewPeer2PeerDiscovery("tcp@"+addr, "")
	if err != nil {
		return nil, err
	}
	xc := rpcx.NewXClient(admin.ServiceName, rpcx.Failtry, rpcx.RandomSelect, d, rpcx.DefaultOption)
	return &Admin{xc: xc}, nil
}

func (a *Admin) Status(ctx context.Context) (server.Status, error) {
	var st server.Status
	err := a.xc.Call(ctx, "Status", &admin.Empty{}, &st)
	return st, err
}

// Get reads key from the node's local copy of the store.
func (a *Admin) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var reply admin.GetReply
	if err := a.xc.Call(ctx, "Get", &admin.GetArgs{Key: key}, &reply); err != nil {
		return nil, false, err
	}
	return reply.Value, reply.Found, nil
}

func (a *Admin) Close() error {
	return a.xc.Close()
}
