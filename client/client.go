// Package client talks to a cluster the way an external client does: it
// submits requests over the framed TCP protocol and follows redirects
// until it reaches the leader.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/raftd/db"
	"github.com/raftd/model"
	"github.com/raftd/transport"
)

var (
	ErrNoLeader = errors.New("client: no leader reachable")
	ErrTimeout  = errors.New("client: no reply in time")
	ErrRejected = errors.New("client: request rejected")
)

// Client is not safe for concurrent use.
type Client struct {
	id    string
	seeds []string
	l     *slog.Logger
	tr    *transport.TCP

	// AttemptTimeout bounds the wait for a reply to one send.
	AttemptTimeout time.Duration

	leader  string       // address of the last known leader
	servers *cache.Cache // address -> server id of live connections
	replies *cache.Cache // msgid -> reply that arrived late
}

// New returns a client that starts from the given node addresses.
func New(seeds []string, l *slog.Logger) *Client {
	if l == nil {
		l = slog.Default()
	}
	id := "client-" + uuid.NewString()
	return &Client{
		id:             id,
		seeds:          seeds,
		l:              l.With(slog.String("client", id)),
		tr:             transport.NewTCP(id, "", l),
		AttemptTimeout: time.Second,
		servers:        cache.New(time.Minute, 2*time.Minute),
		replies:        cache.New(time.Minute, 2*time.Minute),
	}
}

func (c *Client) ID() string { return c.id }

// Send submits data as a new log entry and returns its message id once
// the leader has accepted it.
func (c *Client) Send(ctx context.Context, data []byte) (string, error) {
	m := &model.ClientQuery{Header: model.Header{ID: newMsgID()}, Data: data}
	return m.ID, c.do(ctx, m, m.ID)
}

// Set stores value under key in the replicated key/value store.
func (c *Client) Set(ctx context.Context, key string, value []byte) (string, error) {
	raw, err := db.Command{Op: db.OpSet, Key: key, Value: value}.Encode()
	if err != nil {
		return "", err
	}
	return c.Send(ctx, raw)
}

func (c *Client) Delete(ctx context.Context, key string) (string, error) {
	raw, err := db.Command{Op: db.OpDelete, Key: key}.Encode()
	if err != nil {
		return "", err
	}
	return c.Send(ctx, raw)
}

// UpdatePeers asks the leader to move the cluster to peers, id to
// address.
func (c *Client) UpdatePeers(ctx context.Context, peers map[string]string) (string, error) {
	m := &model.PeerUpdate{Header: model.Header{ID: newMsgID()}, Config: peers}
	return m.ID, c.do(ctx, m, m.ID)
}

func (c *Client) Close() error {
	return c.tr.Close()
}

func newMsgID() string {
	return uuid.NewString()
}

// do sends m until it is acknowledged, moving to whichever node the
// replies point at.
func (c *Client) do(ctx context.Context, m model.Message, msgID string) error {
	raw, err := model.Encode(m)
	if err != nil {
		return err
	}
	next := 0
	for {
		addr := c.leader
		if addr == "" {
			if len(c.seeds) == 0 {
				return ErrNoLeader
			}
			addr = c.seeds[next%len(c.seeds)]
			next++
		}
		redirect, err := c.attempt(ctx, addr, raw, msgID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrRejected):
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		c.l.Debug("attempt failed", slog.String("addr", addr), slog.String("redirect", redirect), slog.Any("error", err))
		c.leader = redirect
		if redirect == "" {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
}

// attempt sends raw to addr and waits for the outcome. A redirect is
// returned with the leader address it names, possibly empty.
func (c *Client) attempt(ctx context.Context, addr string, raw []byte, msgID string) (string, error) {
	if r, ok := c.replies.Get(msgID); ok {
		return "", replyErr(r.(*model.ClientReply))
	}
	id, err := c.server(addr)
	if err != nil {
		return "", err
	}
	if err := c.tr.Send(id, addr, raw); err != nil {
		c.servers.Delete(addr)
		return "", err
	}

	deadline := time.Now().Add(c.AttemptTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		for _, p := range c.tr.Receive(20 * time.Millisecond) {
			m, err := model.Decode(p.Data)
			if err != nil {
				continue
			}
			switch m := m.(type) {
			case *model.ClientReply:
				if m.ID == msgID {
					return "", replyErr(m)
				}
				c.replies.SetDefault(m.ID, m)
			case *model.ClientRedirect:
				if m.ID == msgID {
					return m.Addr, fmt.Errorf("redirected by %s", p.From)
				}
			}
		}
	}
	return "", ErrTimeout
}

// server returns the id of the node at addr, connecting when needed.
func (c *Client) server(addr string) (string, error) {
	if id, ok := c.servers.Get(addr); ok {
		return id.(string), nil
	}
	id, err := c.tr.Dial(addr)
	if err != nil {
		return "", err
	}
	c.servers.SetDefault(addr, id)
	return id, nil
}

func replyErr(r *model.ClientReply) error {
	if r.Err != "" {
		return fmt.Errorf("%w: %s", ErrRejected, r.Err)
	}
	return nil
}
