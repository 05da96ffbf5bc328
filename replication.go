package server

import (
	"log/slog"

	"github.com/raftd/model"
)

// maxBatch bounds the entries carried by one AppendEntries.
const maxBatch = 128

// propose appends a leader entry under the current term, persists it and
// starts replicating it. Entries whose MsgID is already in the log are
// ignored.
func (s *Server) propose(e model.Entry) error {
	e.Index = 0
	e.Term = s.term
	e.Committed = false
	idx, ok := s.log.Append(e)
	if !ok {
		return nil
	}
	e.Index = idx
	s.observeChange(e)
	if s.isVoter(s.id) {
		s.log.AddAck(idx, s.term, s.id)
	}
	if err := s.persist(); err != nil {
		return err
	}
	s.l.Debug("proposed entry", slog.Uint64("index", idx), slog.Uint64("term", s.term), slog.String("msgid", e.MsgID))
	if err := s.advanceCommit(); err != nil {
		return err
	}
	s.broadcast()
	return nil
}

// broadcast sends AppendEntries to every node the leader keeps in sync.
func (s *Server) broadcast() {
	for _, id := range s.targets() {
		s.sendAppendEntries(id)
	}
	s.lastBroadcast = s.now()
}

func (s *Server) sendAppendEntries(id string) {
	prev, ok := s.nextIndex[id]
	if !ok || prev > s.log.MaxIndex() {
		prev = s.log.MaxIndex()
		s.nextIndex[id] = prev
	}
	entries := make(map[uint64]model.Entry)
	for i := prev + 1; i <= s.log.MaxIndex() && len(entries) < maxBatch; i++ {
		e, ok := s.log.Get(i)
		if !ok {
			break
		}
		e.AckedBy = nil
		entries[i] = e
	}
	s.send(id, &model.AppendEntries{
		Header:      model.Header{ID: s.id},
		Term:        s.term,
		PrevIndex:   prev,
		PrevTerm:    s.log.TermAt(prev),
		Entries:     entries,
		CommitIndex: s.commitIndex,
	})
}

// advanceCommit commits the newest entry of the current term that a
// quorum has acknowledged, together with everything before it. Entries of
// earlier terms never commit on their own acknowledgements.
func (s *Server) advanceCommit() error {
	q := s.quorum()
	for i := s.log.MaxIndex(); i > s.commitIndex; i-- {
		if s.log.TermAt(i) != s.term {
			return nil
		}
		if s.log.NumAcked(i) < q {
			continue
		}
		s.log.Commit(i, s.term)
		s.log.ForceCommit(i)
		s.commitIndex = s.log.CommitIndex()
		s.l.Debug("committed", slog.Uint64("commit_index", s.commitIndex), slog.Uint64("term", s.term))
		if err := s.persist(); err != nil {
			return err
		}
		return s.apply()
	}
	return nil
}
