// Package admin exposes a read-only view of a running node over rpcx.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"

	rpcx "github.com/smallnest/rpcx/server"

	server "github.com/raftd"
)

// ServiceName is the rpcx service path of Service.
const ServiceName = "Raft"

type Node interface {
	Status() server.Status
}

type Store interface {
	Get(key string) ([]byte, bool)
}

type Empty struct{}

type GetArgs struct {
	Key string `msgpack:"key"`
}

type GetReply struct {
	Value []byte `msgpack:"value"`
	Found bool   `msgpack:"found"`
}

// Service answers status and local reads. Reads reflect what this node
// has applied and may lag behind the leader.
type Service struct {
	node Node
	kv   Store
}

func NewService(node Node, kv Store) *Service {
	return &Service{node: node, kv: kv}
}

func (s *Service) Status(_ context.Context, _ *Empty, reply *server.Status) error {
	*reply = s.node.Status()
	return nil
}

func (s *Service) Get(_ context.Context, args *GetArgs, reply *GetReply) error {
	if s.kv == nil {
		return errors.New("admin: no store attached")
	}
	reply.Value, reply.Found = s.kv.Get(args.Key)
	return nil
}

type Server struct {
	rpc *rpcx.Server
	ln  net.Listener
	l   *slog.Logger
}

// Serve registers svc and serves it on addr until Close.
func Serve(addr string, svc *Service, l *slog.Logger) (*Server, error) {
	if l == nil {
		l = slog.Default()
	}
	rpcServer := rpcx.NewServer()
	if err := rpcServer.RegisterName(ServiceName, svc, ""); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{rpc: rpcServer, ln: ln, l: l}
	go func() {
		if err := rpcServer.ServeListener("tcp", ln); err != nil && !errors.Is(err, rpcx.ErrServerClosed) {
			l.Error("admin server stopped", slog.Any("error", err))
		}
	}()
	l.Info("admin listening", slog.String("addr", ln.Addr().String()))
	return s, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Close() error {
	return s.rpc.Close()
}
