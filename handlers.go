package server

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/raftd/model"
	"github.com/raftd/raftlog"
	"github.com/raftd/transport"
)

type dispatchKey struct {
	role Role
	kind model.Kind
}

type handlerFunc func(s *Server, from string, m model.Message) error

func on[M model.Message](h func(*Server, string, M) error) handlerFunc {
	return func(s *Server, from string, m model.Message) error {
		return h(s, from, m.(M))
	}
}

// dispatch maps a role and message kind to its handler. Pairs that are
// missing make no sense for the role and are dropped.
var dispatch = map[dispatchKey]handlerFunc{
	{Follower, model.KindRequestVote}:   on((*Server).handleVoteRequest),
	{Follower, model.KindAppendEntries}: on((*Server).handleAppendEntries),
	{Follower, model.KindClientQuery}:   on((*Server).redirectQuery),
	{Follower, model.KindPeerUpdate}:    on((*Server).redirectUpdate),

	{Candidate, model.KindRequestVote}:      on((*Server).denyVote),
	{Candidate, model.KindRequestVoteReply}: on((*Server).handleVoteReply),
	{Candidate, model.KindAppendEntries}:    on((*Server).handleAppendEntries),
	{Candidate, model.KindClientQuery}:      on((*Server).redirectQuery),
	{Candidate, model.KindPeerUpdate}:       on((*Server).redirectUpdate),

	{Leader, model.KindRequestVote}:        on((*Server).denyVote),
	{Leader, model.KindAppendEntries}:      on((*Server).handleAppendEntries),
	{Leader, model.KindAppendEntriesReply}: on((*Server).handleAppendReply),
	{Leader, model.KindClientQuery}:        on((*Server).handleClientQuery),
	{Leader, model.KindPeerUpdate}:         on((*Server).handlePeerUpdate),
}

// handle decodes one packet, applies the term rule for peer messages and
// dispatches it.
func (s *Server) handle(p transport.Packet) error {
	m, err := model.Decode(p.Data)
	if err != nil {
		s.l.Debug("dropping undecodable message", slog.String("from", p.From), slog.Any("error", err))
		return nil
	}
	if m.Kind().FromPeer() {
		if !s.recognized(p.From) {
			s.l.Debug("dropping message from unknown peer", slog.String("from", p.From), slog.String("kind", string(m.Kind())))
			return nil
		}
		if t := termOf(m); t > s.term {
			if err := s.adoptTerm(t); err != nil {
				return err
			}
		}
	}
	h, ok := dispatch[dispatchKey{s.role, m.Kind()}]
	if !ok {
		return nil
	}
	return h(s, p.From, m)
}

func termOf(m model.Message) uint64 {
	switch m := m.(type) {
	case *model.RequestVote:
		return m.Term
	case *model.RequestVoteReply:
		return m.Term
	case *model.AppendEntries:
		return m.Term
	case *model.AppendEntriesReply:
		return m.Term
	}
	return 0
}

func (s *Server) handleVoteRequest(from string, m *model.RequestVote) error {
	reply := &model.RequestVoteReply{Header: model.Header{ID: s.id}, Term: s.term}
	candidate := raftlog.Tail{Term: m.LogTerm, Index: m.LogIndex}
	if m.Term >= s.term && (s.votedFor == "" || s.votedFor == from) && s.log.Tail().NotNewerThan(candidate) {
		s.votedFor = from
		s.resetElectionDeadline()
		if err := s.persist(); err != nil {
			return err
		}
		reply.Voted = true
	}
	s.l.Debug("vote requested", slog.String("candidate", from), slog.Uint64("term", m.Term), slog.Bool("granted", reply.Voted))
	s.send(from, reply)
	return nil
}

// denyVote answers candidates while this node campaigns or leads.
func (s *Server) denyVote(from string, _ *model.RequestVote) error {
	s.send(from, &model.RequestVoteReply{Header: model.Header{ID: s.id}, Term: s.term})
	return nil
}

func (s *Server) handleVoteReply(from string, m *model.RequestVoteReply) error {
	if m.Term != s.term || !s.isVoter(from) {
		return nil
	}
	if m.Voted {
		s.granted[from] = struct{}{}
	} else {
		s.denied[from] = struct{}{}
	}
	if len(s.granted) >= s.quorum() {
		return s.becomeLeader()
	}
	return nil
}

func (s *Server) handleAppendEntries(from string, m *model.AppendEntries) error {
	reply := &model.AppendEntriesReply{Header: model.Header{ID: s.id}, Term: s.term}
	if m.Term < s.term {
		reply.Index = m.PrevIndex
		s.send(from, reply)
		return nil
	}
	if s.role != Follower {
		s.becomeFollower()
	}
	if s.leader != from {
		s.l.Info("following leader", slog.String("leader", from), slog.Uint64("term", s.term))
		s.leader = from
	}
	s.lastContact = s.now()
	s.resetElectionDeadline()

	if !s.log.Exists(m.PrevIndex, m.PrevTerm) {
		reply.Index = min(m.PrevIndex, s.log.MaxIndex()+1)
		s.send(from, reply)
		return nil
	}

	last := m.PrevIndex
	changed := false
	indexes := make([]uint64, 0, len(m.Entries))
	for i := range m.Entries {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)
	for _, i := range indexes {
		if i != last+1 {
			break
		}
		e := m.Entries[i]
		e.Index = i
		if s.log.Exists(i, e.Term) {
			last = i
			continue
		}
		e.Committed = false
		if _, ok := s.log.Append(e); !ok {
			break
		}
		s.observeChange(e)
		last = i
		changed = true
	}
	if m.CommitIndex > s.log.CommitIndex() {
		s.log.ForceCommit(min(m.CommitIndex, last))
		changed = changed || s.log.CommitIndex() != s.commitIndex
		s.commitIndex = s.log.CommitIndex()
	}
	if changed {
		if err := s.persist(); err != nil {
			return err
		}
	}
	reply.Index = last
	reply.Success = true
	s.send(from, reply)
	return s.apply()
}

func (s *Server) handleAppendReply(from string, m *model.AppendEntriesReply) error {
	if m.Term != s.term {
		return nil
	}
	if !m.Success {
		next := min(s.nextIndex[from], m.Index)
		if next > 0 {
			next--
		}
		s.nextIndex[from] = next
		return nil
	}
	s.nextIndex[from] = max(s.nextIndex[from], min(m.Index, s.log.MaxIndex()))
	if s.isVoter(from) {
		for i := s.commitIndex + 1; i <= m.Index; i++ {
			s.log.AddAck(i, s.term, from)
		}
		if err := s.advanceCommit(); err != nil {
			return err
		}
	}
	if s.role == Leader && s.nextIndex[from] < s.log.MaxIndex() {
		s.sendAppendEntries(from)
	}
	return nil
}

func (s *Server) handleClientQuery(from string, m *model.ClientQuery) error {
	reply := &model.ClientReply{Header: model.Header{ID: m.ID}}
	if m.ID == "" {
		reply.Err = "missing message id"
		s.send(from, reply)
		return nil
	}
	if _, dup := s.log.GetByMsgID(m.ID); !dup {
		if err := s.propose(model.Entry{MsgID: m.ID, Data: m.Data}); err != nil {
			return err
		}
	}
	s.send(from, reply)
	return nil
}

func (s *Server) handlePeerUpdate(from string, m *model.PeerUpdate) error {
	reply := &model.ClientReply{Header: model.Header{ID: m.ID}}
	_, dup := s.log.GetByMsgID(m.ID)
	switch {
	case m.ID == "":
		reply.Err = "missing message id"
	case dup:
	case s.pendingChange != "":
		reply.Err = "membership change pending"
	case len(m.Config) == 0:
		reply.Err = "empty configuration"
	default:
		s.l.Info("membership change requested", slog.String("id", m.ID), slog.Any("config", m.Config))
		s.pendingChange = m.ID
		err := s.propose(model.Entry{
			MsgID:  m.ID,
			Change: &model.ConfigChange{Phase: model.PhaseJoint, Peers: maps.Clone(m.Config)},
		})
		if err != nil {
			return err
		}
	}
	s.send(from, reply)
	return nil
}

func (s *Server) redirectQuery(from string, m *model.ClientQuery) error {
	s.redirect(from, m.ID)
	return nil
}

func (s *Server) redirectUpdate(from string, m *model.PeerUpdate) error {
	s.redirect(from, m.ID)
	return nil
}

func (s *Server) redirect(to, msgID string) {
	s.send(to, &model.ClientRedirect{
		Header: model.Header{ID: msgID},
		Leader: s.leader,
		Addr:   s.addrOf(s.leader),
	})
}
