package server

import (
	"log/slog"
	"maps"
	"sort"

	"github.com/google/uuid"

	"github.com/raftd/model"
)

// votingSet is peers plus the incoming configuration while a change is
// in flight. Old peers never vote.
func (s *Server) votingSet() map[string]string {
	set := maps.Clone(s.peers)
	if set == nil {
		set = make(map[string]string)
	}
	for id, addr := range s.newPeers {
		set[id] = addr
	}
	return set
}

func (s *Server) quorum() int {
	return len(s.votingSet())/2 + 1
}

func (s *Server) isVoter(id string) bool {
	if _, ok := s.peers[id]; ok {
		return true
	}
	_, ok := s.newPeers[id]
	return ok
}

// recognized reports whether id belongs to any configuration this node
// knows about, including one being retired.
func (s *Server) recognized(id string) bool {
	if id == s.id {
		return false
	}
	if s.isVoter(id) {
		return true
	}
	_, ok := s.oldPeers[id]
	return ok
}

func (s *Server) addrOf(id string) string {
	if addr, ok := s.newPeers[id]; ok {
		return addr
	}
	if addr, ok := s.peers[id]; ok {
		return addr
	}
	return s.oldPeers[id]
}

// targets lists every other node the leader keeps in sync, in id order.
func (s *Server) targets() []string {
	ids := make([]string, 0, len(s.peers)+len(s.newPeers)+len(s.oldPeers))
	seen := map[string]bool{s.id: true}
	for _, set := range []map[string]string{s.peers, s.newPeers, s.oldPeers} {
		for id := range set {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// observeChange applies the membership transition an entry carries. It
// runs as soon as the entry is in the log, committed or not.
func (s *Server) observeChange(e model.Entry) {
	if e.Change == nil {
		return
	}
	switch e.Change.Phase {
	case model.PhaseJoint:
		s.newPeers = maps.Clone(e.Change.Peers)
		s.l.Info("joint configuration", slog.Uint64("index", e.Index), slog.Any("new_peers", s.newPeers))
	case model.PhaseFinal:
		s.oldPeers = s.peers
		s.peers = maps.Clone(e.Change.Peers)
		s.newPeers = nil
		s.l.Info("new configuration", slog.Uint64("index", e.Index), slog.Any("peers", s.peers))
	}
}

// changeCommitted runs once a membership entry is committed.
func (s *Server) changeCommitted(e model.Entry) error {
	switch e.Change.Phase {
	case model.PhaseJoint:
		if s.role == Leader && e.MsgID == s.pendingChange {
			return s.startFinalPhase()
		}
	case model.PhaseFinal:
		if s.role == Leader {
			// retired peers learn the commit before they drop out of targets
			s.broadcast()
		}
		s.oldPeers = nil
		if s.pendingChange == e.MsgID {
			s.pendingChange = ""
		}
		if _, ok := s.peers[s.id]; !ok {
			s.l.Info("removed from cluster", slog.Uint64("index", e.Index))
			s.removed = true
		}
	}
	return nil
}

// startFinalPhase makes the new configuration the sole authority.
func (s *Server) startFinalPhase() error {
	if s.newPeers == nil {
		return nil
	}
	id := uuid.NewString()
	s.pendingChange = id
	return s.propose(model.Entry{
		MsgID:  id,
		Change: &model.ConfigChange{Phase: model.PhaseFinal, Peers: maps.Clone(s.newPeers)},
	})
}

// lastChange returns the newest membership entry in the log.
func (s *Server) lastChange() (model.Entry, bool) {
	for i := s.log.MaxIndex(); i > 0; i-- {
		if e, ok := s.log.Get(i); ok && e.Change != nil {
			return e, true
		}
	}
	return model.Entry{}, false
}

// restoreMembership replays membership entries found in the log after
// a restart.
func (s *Server) restoreMembership() {
	for _, e := range s.log.Dump() {
		if e.Change == nil {
			continue
		}
		s.observeChange(e)
		if e.Committed && e.Change.Phase == model.PhaseFinal {
			s.oldPeers = nil
		}
	}
}
