package model

// Invoked by candidates to gather votes
type RequestVote struct {
	Header `msgpack:",inline"`

	Term     uint64 `msgpack:"term"`      // candidate’s term
	LogIndex uint64 `msgpack:"log_index"` // index of candidate’s last log entry
	LogTerm  uint64 `msgpack:"log_term"`  // term of candidate’s last log entry
}

func (*RequestVote) Kind() Kind { return KindRequestVote }

type RequestVoteReply struct {
	Header `msgpack:",inline"`

	Term  uint64 `msgpack:"term"`  // currentTerm, for candidate to update itself
	Voted bool   `msgpack:"voted"` // true means candidate received vote
}

func (*RequestVoteReply) Kind() Kind { return KindRequestVoteReply }

/*
	Receiver implementation:
	1. Reply false if term < currentTerm
	2. If votedFor is null or candidateId, and candidate’s log is at
	least as up-to-date as receiver’s log, grant vote
	3. A candidate never votes for another candidate
*/
