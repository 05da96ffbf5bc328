// Package server is the consensus engine: one node of a Raft cluster with
// leader election, log replication and joint-consensus membership changes.
//
// All engine state is owned by the goroutine running Run. Other
// goroutines only see the Status snapshot published after every loop
// iteration.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/raftd/config"
	"github.com/raftd/model"
	"github.com/raftd/raftlog"
	"github.com/raftd/storage"
	"github.com/raftd/transport"
)

var ErrRemoved = errors.New("raft: node removed from cluster")

// Transport delivers framed messages between peer ids. Send is best
// effort and must not block: it runs on the engine loop. Receive must not
// block longer than timeout.
type Transport interface {
	Send(id, addr string, msg []byte) error
	Receive(timeout time.Duration) []transport.Packet
}

// Store durably keeps the node state across restarts.
type Store interface {
	Load() (*storage.State, error)
	Save(*storage.State) error
}

// StateMachine receives the data of committed client entries in log
// order.
type StateMachine interface {
	Apply([]byte) ([]byte, error)
}

type Server struct {
	id   string
	conf *config.Config
	l    *slog.Logger

	transport Transport
	store     Store
	sm        StateMachine

	role     Role
	term     uint64 // latest term server has seen
	votedFor string // candidate that received vote in current term, empty if none
	log      *raftlog.Log

	peers         map[string]string // id -> address, includes this node while it is a member
	newPeers      map[string]string // incoming configuration during a change
	oldPeers      map[string]string // retired configuration until the change commits
	pendingChange string            // msgid of the in-flight membership entry

	commitIndex uint64 // index of highest log entry known to be committed
	lastApplied uint64 // index of highest log entry handed to the state machine

	// on leader
	nextIndex map[string]uint64 // per peer, last index believed to match

	// on candidate
	granted map[string]struct{}
	denied  map[string]struct{}

	leader           string
	lastContact      time.Time
	electionStart    time.Time
	electionDeadline time.Time
	lastBroadcast    time.Time

	removed bool
	now     func() time.Time
	rand    *rand.Rand

	status atomic.Pointer[Status]
}

// NewServer restores the node from store. conf supplies timeouts and,
// when the store holds no peer set yet, the initial membership.
func NewServer(conf *config.Config, tr Transport, store Store, sm StateMachine, l *slog.Logger) (*Server, error) {
	if l == nil {
		l = slog.Default()
	}
	c := *conf
	c.SetDefaults()

	st, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	s := &Server{
		conf:      &c,
		transport: tr,
		store:     store,
		sm:        sm,
		role:      Follower,
		term:      st.Term,
		votedFor:  st.VotedFor,
		log:       raftlog.Restore(st.Log),
		peers:     maps.Clone(st.Peers),
		now:       time.Now,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.id = st.SelfID
	if c.ID != "" {
		s.id = c.ID
	}
	if len(s.peers) == 0 {
		s.peers = c.Peers()
	}
	if len(s.peers) == 0 {
		s.peers = map[string]string{s.id: c.Bind}
	}
	s.l = l.With(slog.String("node", s.id))

	s.restoreMembership()
	s.commitIndex = s.log.CommitIndex()
	// committed entries are applied again on restart; the state machine
	// lives in memory
	s.lastContact = s.now()
	s.resetElectionDeadline()

	if err := s.persist(); err != nil {
		return nil, err
	}
	s.publishStatus()
	return s, nil
}

func (s *Server) ID() string { return s.id }

// Run drives the node until ctx is done, the node is removed from the
// cluster, or state can no longer be persisted.
func (s *Server) Run(ctx context.Context) error {
	s.l.Info("starting", slog.Uint64("term", s.term), slog.Uint64("commit_index", s.commitIndex), slog.Any("peers", s.peers))
	if err := s.apply(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			s.l.Info("stopping")
			return nil
		default:
		}
		if err := s.step(); err != nil {
			return err
		}
		if s.removed {
			if s.role == Leader {
				s.broadcast()
			}
			s.publishStatus()
			return ErrRemoved
		}
	}
}

// step runs one loop iteration: a bounded receive, then housekeeping.
func (s *Server) step() error {
	for _, p := range s.transport.Receive(s.wait()) {
		if err := s.handle(p); err != nil {
			return err
		}
		if s.removed {
			return nil
		}
	}
	if err := s.tick(); err != nil {
		return err
	}
	s.publishStatus()
	return nil
}

// wait is how long the next receive may block: until the next timer is
// due, capped by the poll interval.
func (s *Server) wait() time.Duration {
	now := s.now()
	d := s.conf.PollInterval
	switch s.role {
	case Follower:
		d = min(d, s.electionDeadline.Sub(now))
	case Candidate:
		d = min(d, s.electionDeadline.Sub(now), s.lastBroadcast.Add(s.conf.HeartbeatInterval).Sub(now))
	case Leader:
		d = min(d, s.lastBroadcast.Add(s.conf.HeartbeatInterval).Sub(now))
	}
	return max(d, time.Millisecond)
}

// tick fires the timers that are due.
func (s *Server) tick() error {
	now := s.now()
	switch s.role {
	case Follower:
		if now.After(s.electionDeadline) && s.isVoter(s.id) {
			return s.startElection()
		}
	case Candidate:
		if !s.isVoter(s.id) {
			s.becomeFollower()
			return nil
		}
		if now.After(s.electionDeadline) {
			s.l.Info("election timed out", slog.Uint64("term", s.term), slog.Duration("elapsed", now.Sub(s.electionStart)))
			return s.startElection()
		}
		if now.Sub(s.lastBroadcast) >= s.conf.HeartbeatInterval {
			s.requestVotes()
		}
	case Leader:
		if now.Sub(s.lastBroadcast) >= s.conf.HeartbeatInterval {
			s.broadcast()
		}
	}
	return nil
}

func (s *Server) send(to string, m model.Message) {
	raw, err := model.Encode(m)
	if err != nil {
		s.l.Error("encode message", slog.String("kind", string(m.Kind())), slog.Any("error", err))
		return
	}
	if err := s.transport.Send(to, s.addrOf(to), raw); err != nil {
		s.l.Debug("send failed", slog.String("to", to), slog.String("kind", string(m.Kind())), slog.Any("error", err))
	}
}

// apply hands newly committed entries to the state machine and finishes
// membership phases, in log order.
func (s *Server) apply() error {
	for s.lastApplied < s.commitIndex {
		e, ok := s.log.Get(s.lastApplied + 1)
		if !ok {
			return fmt.Errorf("committed entry %d missing", s.lastApplied+1)
		}
		s.lastApplied = e.Index
		if e.Change != nil {
			if err := s.changeCommitted(e); err != nil {
				return err
			}
			continue
		}
		if s.sm == nil || len(e.Data) == 0 {
			continue
		}
		if _, err := s.sm.Apply(e.Data); err != nil {
			s.l.Debug("state machine skipped entry", slog.Uint64("index", e.Index), slog.Any("error", err))
		}
	}
	return nil
}

// Status is a point-in-time view of the node, safe to read from any
// goroutine.
type Status struct {
	ID            string            `msgpack:"id"`
	Role          string            `msgpack:"role"`
	Term          uint64            `msgpack:"term"`
	VotedFor      string            `msgpack:"voted_for"`
	Leader        string            `msgpack:"leader"`
	LeaderAddr    string            `msgpack:"leader_addr"`
	CommitIndex   uint64            `msgpack:"commit_index"`
	LastApplied   uint64            `msgpack:"last_applied"`
	MaxIndex      uint64            `msgpack:"max_index"`
	Peers         map[string]string `msgpack:"peers"`
	NewPeers      map[string]string `msgpack:"new_peers"`
	OldPeers      map[string]string `msgpack:"old_peers"`
	PendingChange string            `msgpack:"pending_change"`
	Removed       bool              `msgpack:"removed"`
}

func (s *Server) publishStatus() {
	s.status.Store(&Status{
		ID:            s.id,
		Role:          s.role.String(),
		Term:          s.term,
		VotedFor:      s.votedFor,
		Leader:        s.leader,
		LeaderAddr:    s.addrOf(s.leader),
		CommitIndex:   s.commitIndex,
		LastApplied:   s.lastApplied,
		MaxIndex:      s.log.MaxIndex(),
		Peers:         maps.Clone(s.peers),
		NewPeers:      maps.Clone(s.newPeers),
		OldPeers:      maps.Clone(s.oldPeers),
		PendingChange: s.pendingChange,
		Removed:       s.removed,
	})
}

// Status returns the last published snapshot.
func (s *Server) Status() Status {
	return *s.status.Load()
}
