package model

// Invoked by the leader to replicate log entries; also used as heartbeat
type AppendEntries struct {
	Header `msgpack:",inline"`

	Term        uint64           `msgpack:"term"`      // leader’s term
	PrevIndex   uint64           `msgpack:"previdx"`   // index of log entry immediately preceding new ones
	PrevTerm    uint64           `msgpack:"prevterm"`  // term of PrevIndex entry
	Entries     map[uint64]Entry `msgpack:"entries"`   // log entries to store (empty for heartbeat)
	CommitIndex uint64           `msgpack:"commitidx"` // leader’s commitIndex
}

func (*AppendEntries) Kind() Kind { return KindAppendEntries }

type AppendEntriesReply struct {
	Header `msgpack:",inline"`

	Term    uint64 `msgpack:"term"`    // currentTerm, for leader to update itself
	Index   uint64 `msgpack:"index"`   // last matching index on success, rejected PrevIndex on failure
	Success bool   `msgpack:"success"` // true if follower contained entry matching PrevIndex and PrevTerm
}

func (*AppendEntriesReply) Kind() Kind { return KindAppendEntriesReply }

/*
	Receiver implementation:
		1. Reply false if term < currentTerm
		2. Reply false if log doesn’t contain an entry at prevIndex
		whose term matches prevTerm
		3. If an existing entry conflicts with a new one (same index
		but different terms), delete the existing entry and all that
		follow it
		4. Append any new entries not already in the log
		5. If leaderCommit > commitIndex, set commitIndex =
		min(leaderCommit, index of last new entry)
*/
