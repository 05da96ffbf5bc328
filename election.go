package server

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/raftd/model"
)

// startElection moves to a new term as candidate. The vote for self is
// persisted before any request goes out.
func (s *Server) startElection() error {
	s.role = Candidate
	s.term++
	s.votedFor = s.id
	s.leader = ""
	s.granted = map[string]struct{}{s.id: {}}
	s.denied = make(map[string]struct{})
	s.electionStart = s.now()
	s.resetElectionDeadline()
	if err := s.persist(); err != nil {
		return err
	}
	s.l.Info("starting election", slog.Uint64("term", s.term), slog.Int("quorum", s.quorum()))

	if len(s.granted) >= s.quorum() {
		return s.becomeLeader()
	}
	s.requestVotes()
	return nil
}

// requestVotes asks every voter that has not answered yet.
func (s *Server) requestVotes() {
	tail := s.log.Tail()
	for _, id := range s.targets() {
		if !s.isVoter(id) {
			continue
		}
		if _, ok := s.granted[id]; ok {
			continue
		}
		if _, ok := s.denied[id]; ok {
			continue
		}
		s.send(id, &model.RequestVote{
			Header:   model.Header{ID: s.id},
			Term:     s.term,
			LogIndex: tail.Index,
			LogTerm:  tail.Term,
		})
	}
	s.lastBroadcast = s.now()
}

func (s *Server) becomeLeader() error {
	s.l.Info("elected leader", slog.Uint64("term", s.term), slog.Int("votes", len(s.granted)), slog.Duration("took", s.now().Sub(s.electionStart)))
	s.role = Leader
	s.leader = s.id
	s.granted, s.denied = nil, nil
	s.nextIndex = make(map[string]uint64)
	for _, id := range s.targets() {
		s.nextIndex[id] = s.log.MaxIndex()
	}
	s.commitIndex = s.log.CommitIndex()

	// a change interrupted by the previous leader is driven to the end
	resume := false
	if e, ok := s.lastChange(); ok {
		switch {
		case !e.Committed:
			s.pendingChange = e.MsgID
		case e.Change.Phase == model.PhaseJoint:
			resume = true
		}
	}

	// an entry of the new term lets earlier entries commit
	if err := s.propose(model.Entry{MsgID: uuid.NewString()}); err != nil {
		return err
	}
	if resume && s.role == Leader {
		return s.startFinalPhase()
	}
	return nil
}
