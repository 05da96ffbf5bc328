package model

// Kind is the value of the "type" key every wire message carries.
type Kind string

const (
	KindRequestVote        Kind = "rv"
	KindRequestVoteReply   Kind = "rv_reply"
	KindAppendEntries      Kind = "ae"
	KindAppendEntriesReply Kind = "ae_reply"
	KindClientQuery        Kind = "cq"
	KindClientReply        Kind = "cr"
	KindClientRedirect     Kind = "cr_rdr"
	KindPeerUpdate         Kind = "pu"
)

// FromPeer reports whether messages of this kind are only accepted from
// cluster members. Client kinds may come from anyone.
func (k Kind) FromPeer() bool {
	switch k {
	case KindRequestVote, KindRequestVoteReply, KindAppendEntries, KindAppendEntriesReply:
		return true
	}
	return false
}

// Header is shared by every message. ID is the sender id for peer
// messages and the client message id for client ones.
type Header struct {
	Type Kind   `msgpack:"type"`
	ID   string `msgpack:"id"`
}

func (h *Header) header() *Header { return h }

// Message is any of the wire message structs.
type Message interface {
	Kind() Kind
	header() *Header
}
