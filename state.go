package server

import (
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/raftd/storage"
)

type Role uint8

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	}
	return fmt.Sprintf("role(%d)", r)
}

// persist writes term, vote, log and peers. It must succeed before the
// change it records is acted upon.
func (s *Server) persist() error {
	st := &storage.State{
		Term:     s.term,
		VotedFor: s.votedFor,
		Log:      s.log.Dump(),
		Peers:    maps.Clone(s.peers),
		SelfID:   s.id,
	}
	if err := s.store.Save(st); err != nil {
		s.l.Error("error while persisting state", slog.Uint64("term", s.term), slog.Any("error", err))
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// adoptTerm moves to a newer term seen on the wire: vote and leader
// knowledge are forgotten and the node falls back to follower.
func (s *Server) adoptTerm(term uint64) error {
	s.l.Info("newer term seen", slog.Uint64("term", s.term), slog.Uint64("new_term", term), slog.String("role", s.role.String()))
	s.term = term
	s.votedFor = ""
	s.leader = ""
	if s.role != Follower {
		s.becomeFollower()
	}
	return s.persist()
}

func (s *Server) becomeFollower() {
	if s.role != Follower {
		s.l.Info("stepping down", slog.String("role", s.role.String()), slog.Uint64("term", s.term))
	}
	s.role = Follower
	s.nextIndex = nil
	s.granted, s.denied = nil, nil
	s.resetElectionDeadline()
}

// resetElectionDeadline draws a fresh timeout in [T, 2T).
func (s *Server) resetElectionDeadline() {
	t := s.conf.ElectionTimeout
	s.electionDeadline = s.now().Add(t + time.Duration(s.rand.Int63n(int64(t))))
}
