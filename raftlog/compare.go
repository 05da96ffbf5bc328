package raftlog

// Tail identifies the last entry of a log. Tails are totally ordered by
// term first and index second.
type Tail struct {
	Term  uint64
	Index uint64
}

// NotNewerThan reports whether a log ending at t is at most as
// up-to-date as one ending at o.
func (t Tail) NotNewerThan(o Tail) bool {
	if o.Term != t.Term {
		return o.Term > t.Term
	}
	return o.Index >= t.Index
}

// Tail returns the (term, index) of the last entry.
func (l *Log) Tail() Tail {
	return Tail{Term: l.TermAt(l.maxIndex), Index: l.maxIndex}
}

// NotNewerThan compares two logs by their tails.
func (l *Log) NotNewerThan(other *Log) bool {
	return l.Tail().NotNewerThan(other.Tail())
}
