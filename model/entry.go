package model

// Membership change phases carried by log entries.
const (
	PhaseJoint = 1 // old and new configuration vote together
	PhaseFinal = 2 // new configuration is the sole authority
)

// ConfigChange is the membership payload of a log entry.
type ConfigChange struct {
	Phase int               `msgpack:"phase"`
	Peers map[string]string `msgpack:"peers"`
}

// Entry is a single replicated log record.
type Entry struct {
	Index     uint64        `msgpack:"index"`
	Term      uint64        `msgpack:"term"`
	MsgID     string        `msgpack:"msgid"`
	Committed bool          `msgpack:"committed"`
	Data      []byte        `msgpack:"data,omitempty"`
	Change    *ConfigChange `msgpack:"config,omitempty"`

	// peers that acknowledged this entry under Term; leader bookkeeping only
	AckedBy map[string]struct{} `msgpack:"-"`
}
