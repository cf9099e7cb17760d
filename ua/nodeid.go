package ua

// NodeID identifies a node in a server address space. Only numeric ids are
// needed by the secure-channel services, so NodeID is a comparable value
// type usable as a registry key.
type NodeID struct {
	NamespaceIndex uint16
	ID             uint32
}

// NewNodeIDNumeric constructs a numeric NodeID.
func NewNodeIDNumeric(ns uint16, id uint32) NodeID {
	return NodeID{NamespaceIndex: ns, ID: id}
}

// Encoding ids of the secure-channel service messages.
var (
	ObjectIDOpenSecureChannelRequestEncodingDefaultBinary   = NewNodeIDNumeric(0, 446)
	ObjectIDOpenSecureChannelResponseEncodingDefaultBinary  = NewNodeIDNumeric(0, 449)
	ObjectIDCloseSecureChannelRequestEncodingDefaultBinary  = NewNodeIDNumeric(0, 452)
	ObjectIDCloseSecureChannelResponseEncodingDefaultBinary = NewNodeIDNumeric(0, 455)
	ObjectIDServiceFaultEncodingDefaultBinary               = NewNodeIDNumeric(0, 397)
)
