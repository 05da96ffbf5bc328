// Package raftlog holds the replicated log: an index-addressed,
// rewindable sequence of entries with per-entry commit and
// acknowledgement state.
//
// Index 0 is always a committed sentinel of term 0, so a log is never
// empty and TermAt(0) is well defined.
package raftlog

import (
	"sort"

	"github.com/raftd/model"
)

// Panic messages for invariant violations. These indicate a bug in the
// caller, never a network condition.
const (
	PanicCommitTerm     = "raftlog: commit term mismatch"
	PanicCommitBelow    = "raftlog: commit below commit index"
	PanicTruncateCommit = "raftlog: truncating committed entry"
	PanicCommitMissing  = "raftlog: commit of missing entry"
)

// Log is not safe for concurrent use; it belongs to the engine loop.
type Log struct {
	entries map[uint64]*model.Entry
	byMsgID map[string]*model.Entry

	maxIndex    uint64
	commitIndex uint64
}

// New returns a log holding only the sentinel.
func New() *Log {
	l := &Log{
		entries: make(map[uint64]*model.Entry),
		byMsgID: make(map[string]*model.Entry),
	}
	l.entries[0] = &model.Entry{Index: 0, Term: 0, Committed: true}
	return l
}

// Restore rebuilds a log from a Dump. Missing sentinel is re-created.
func Restore(dump []model.Entry) *Log {
	l := New()
	for i := range dump {
		e := dump[i]
		e.AckedBy = nil
		if e.Index == 0 {
			e.Term, e.Committed = 0, true
		}
		l.entries[e.Index] = &e
		if e.MsgID != "" {
			l.byMsgID[e.MsgID] = &e
		}
		if e.Index > l.maxIndex {
			l.maxIndex = e.Index
		}
	}
	l.advanceCommitIndex()
	return l
}

// Dump returns a copy of every entry in index order.
func (l *Log) Dump() []model.Entry {
	out := make([]model.Entry, 0, len(l.entries))
	for _, e := range l.entries {
		c := *e
		c.AckedBy = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Append adds an entry and returns the index it was stored at.
//
// With Index unset the caller is a leader proposing a new entry: it is
// rejected when its MsgID is already in the log, otherwise it lands at
// MaxIndex()+1. With Index set the placement is dictated by a leader;
// anything at or after that index is dropped first. Placements that would
// leave a hole are rejected.
func (l *Log) Append(e model.Entry) (uint64, bool) {
	if e.Index == 0 {
		if e.MsgID != "" {
			if _, dup := l.byMsgID[e.MsgID]; dup {
				return 0, false
			}
		}
		e.Index = l.maxIndex + 1
	} else {
		if e.Index > l.maxIndex+1 {
			return 0, false
		}
		if e.Index != l.maxIndex+1 {
			l.truncate(e.Index)
		}
	}
	e.AckedBy = nil
	l.entries[e.Index] = &e
	if e.MsgID != "" {
		l.byMsgID[e.MsgID] = &e
	}
	l.maxIndex = e.Index
	if e.Committed {
		l.advanceCommitIndex()
	}
	return e.Index, true
}

// truncate removes every entry at or after index.
func (l *Log) truncate(index uint64) {
	for i := index; i <= l.maxIndex; i++ {
		if e, ok := l.entries[i]; ok && e.Committed {
			panic(PanicTruncateCommit)
		}
	}
	for i := index; i <= l.maxIndex; i++ {
		e, ok := l.entries[i]
		if !ok {
			continue
		}
		if e.MsgID != "" && l.byMsgID[e.MsgID] == e {
			delete(l.byMsgID, e.MsgID)
		}
		delete(l.entries, i)
	}
	l.maxIndex = index - 1
}

func (l *Log) Get(index uint64) (model.Entry, bool) {
	e, ok := l.entries[index]
	if !ok {
		return model.Entry{}, false
	}
	return *e, true
}

func (l *Log) GetByMsgID(msgID string) (model.Entry, bool) {
	e, ok := l.byMsgID[msgID]
	if !ok {
		return model.Entry{}, false
	}
	return *e, true
}

// TermAt returns the term of the entry at index, or 0 if there is none.
func (l *Log) TermAt(index uint64) uint64 {
	if e, ok := l.entries[index]; ok {
		return e.Term
	}
	return 0
}

// Exists reports whether the entry at index has exactly term.
func (l *Log) Exists(index, term uint64) bool {
	e, ok := l.entries[index]
	return ok && e.Term == term
}

func (l *Log) MaxIndex() uint64 { return l.maxIndex }

// CommitIndex is the highest index such that it and every index below it
// are committed.
func (l *Log) CommitIndex() uint64 { return l.commitIndex }

// AddAck records that peer holds the entry at index under term. Acks for
// a different term than the stored entry are ignored.
func (l *Log) AddAck(index, term uint64, peer string) bool {
	e, ok := l.entries[index]
	if !ok || e.Term != term {
		return false
	}
	if e.AckedBy == nil {
		e.AckedBy = make(map[string]struct{})
	}
	e.AckedBy[peer] = struct{}{}
	return true
}

func (l *Log) NumAcked(index uint64) int {
	if e, ok := l.entries[index]; ok {
		return len(e.AckedBy)
	}
	return 0
}

func (l *Log) IsCommitted(index, term uint64) bool {
	e, ok := l.entries[index]
	return ok && e.Term == term && e.Committed
}

// Commit marks the entry at index as committed. The stored term must be
// term, and index may not fall below the commit index.
func (l *Log) Commit(index, term uint64) {
	if index < l.commitIndex {
		panic(PanicCommitBelow)
	}
	e, ok := l.entries[index]
	if !ok {
		panic(PanicCommitMissing)
	}
	if e.Term != term {
		panic(PanicCommitTerm)
	}
	e.Committed = true
	l.advanceCommitIndex()
}

// ForceCommit marks every entry up to index as committed without any
// quorum or term check. The leader's word is final for followers.
func (l *Log) ForceCommit(index uint64) {
	index = min(index, l.maxIndex)
	for i := l.commitIndex + 1; i <= index; i++ {
		if e, ok := l.entries[i]; ok {
			e.Committed = true
		}
	}
	l.advanceCommitIndex()
}

func (l *Log) advanceCommitIndex() {
	for {
		e, ok := l.entries[l.commitIndex+1]
		if !ok || !e.Committed {
			return
		}
		l.commitIndex++
	}
}

// EntriesAfter returns copies of every entry with an index above index.
func (l *Log) EntriesAfter(index uint64) []model.Entry {
	if index >= l.maxIndex {
		return nil
	}
	out := make([]model.Entry, 0, l.maxIndex-index)
	for i := index + 1; i <= l.maxIndex; i++ {
		if e, ok := l.entries[i]; ok {
			c := *e
			c.AckedBy = nil
			out = append(out, c)
		}
	}
	return out
}
