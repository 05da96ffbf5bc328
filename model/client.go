package model

// ClientQuery carries an opaque client request. Header.ID is the
// idempotency key of the request.
type ClientQuery struct {
	Header `msgpack:",inline"`

	Data []byte `msgpack:"data"`
}

func (*ClientQuery) Kind() Kind { return KindClientQuery }

// ClientReply acknowledges a ClientQuery or PeerUpdate. Err is set when
// the request was refused.
type ClientReply struct {
	Header `msgpack:",inline"`

	Data []byte `msgpack:"data"`
	Err  string `msgpack:"err,omitempty"`
}

func (*ClientReply) Kind() Kind { return KindClientReply }

// ClientRedirect points a client at the leader. Leader and Addr are empty
// when no leader is known.
type ClientRedirect struct {
	Header `msgpack:",inline"`

	Leader string `msgpack:"leader"`
	Addr   string `msgpack:"addr"`
}

func (*ClientRedirect) Kind() Kind { return KindClientRedirect }

// PeerUpdate asks the leader to move the cluster to Config (peer id to
// address). Phase is unset on requests.
type PeerUpdate struct {
	Header `msgpack:",inline"`

	Config map[string]string `msgpack:"config"`
	Phase  int               `msgpack:"phase"`
}

func (*PeerUpdate) Kind() Kind { return KindPeerUpdate }
