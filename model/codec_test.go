package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	raw, err := Encode(m)
	require.NoError(t, err)
	out, err := Decode(raw)
	require.NoError(t, err)
	return out
}

func TestRoundTrip(t *testing.T) {
	msgs := []Message{
		&RequestVote{Header: Header{ID: "a"}, Term: 5, LogIndex: 1, LogTerm: 3},
		&RequestVoteReply{Header: Header{ID: "b"}, Term: 5, Voted: true},
		&AppendEntriesReply{Header: Header{ID: "b"}, Term: 7, Index: 10, Success: true},
		&ClientQuery{Header: Header{ID: "msg-1"}, Data: []byte("payload")},
		&ClientReply{Header: Header{ID: "msg-1"}, Data: []byte("ok")},
		&ClientReply{Header: Header{ID: "msg-2"}, Err: "membership change pending"},
		&ClientRedirect{Header: Header{ID: "msg-1"}, Leader: "c", Addr: "127.0.0.1:9289"},
		&PeerUpdate{Header: Header{ID: "msg-3"}, Config: map[string]string{"a": "h:1", "e": "h:5"}},
		&AppendEntries{
			Header:      Header{ID: "a"},
			Term:        7,
			PrevIndex:   9,
			PrevTerm:    6,
			CommitIndex: 8,
			Entries: map[uint64]Entry{
				10: {Index: 10, Term: 7, MsgID: "m10", Data: []byte("x")},
				11: {Index: 11, Term: 7, MsgID: "m11", Change: &ConfigChange{
					Phase: PhaseJoint,
					Peers: map[string]string{"a": "h:1"},
				}},
			},
		},
	}
	for _, m := range msgs {
		t.Run(string(m.Kind()), func(t *testing.T) {
			out := roundTrip(t, m)
			assert.Equal(t, m, out)
			assert.Equal(t, m.Kind(), out.header().Type)
		})
	}
}

func TestHeartbeatKeepsEmptyEntries(t *testing.T) {
	out := roundTrip(t, &AppendEntries{Header: Header{ID: "a"}, Term: 3, Entries: map[uint64]Entry{}})
	ae, ok := out.(*AppendEntries)
	require.True(t, ok)
	assert.NotNil(t, ae.Entries)
	assert.Len(t, ae.Entries, 0)
}

func TestWireFormIsFlatMap(t *testing.T) {
	raw, err := Encode(&RequestVote{Header: Header{ID: "a"}, Term: 2, LogIndex: 4, LogTerm: 1})
	require.NoError(t, err)

	var flat map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(raw, &flat))
	assert.Equal(t, "rv", flat["type"])
	assert.Equal(t, "a", flat["id"])
	assert.Contains(t, flat, "term")
	assert.Contains(t, flat, "log_index")
	assert.Contains(t, flat, "log_term")
	assert.NotContains(t, flat, "Header")
}

func TestDecodeUnknownKind(t *testing.T) {
	raw, err := msgpack.Marshal(map[string]string{"type": "null", "id": "x"})
	require.NoError(t, err)
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode([]byte{0xc1})
	assert.Error(t, err)
}

func TestKindFromPeer(t *testing.T) {
	assert.True(t, KindAppendEntries.FromPeer())
	assert.True(t, KindRequestVoteReply.FromPeer())
	assert.False(t, KindClientQuery.FromPeer())
	assert.False(t, KindPeerUpdate.FromPeer())
}
