package server

import (
	"bytes"
	"encoding/binary"

	"github.com/uamesh/uasc/ua"
)

// chunkHeaderSize is the size of the fixed chunk header: 3-byte message
// type, 1-byte chunk type, 4-byte message size.
const chunkHeaderSize = 8

// Framer slices complete chunks out of an inbound byte stream. Partial
// chunks are left in the caller's buffer; the framer holds no state of its
// own.
type Framer struct {
	receiveBufferSize uint32
}

// NewFramer returns a framer enforcing the negotiated receive buffer size.
func NewFramer(receiveBufferSize uint32) *Framer {
	return &Framer{receiveBufferSize: receiveBufferSize}
}

// Next returns the next complete chunk from buf, or nil when more bytes are
// needed. The returned slice is freshly allocated and owned by the caller.
func (f *Framer) Next(buf *bytes.Buffer) ([]byte, error) {
	if buf.Len() < chunkHeaderSize {
		return nil, nil
	}
	b := buf.Bytes()
	messageType := binary.LittleEndian.Uint32(b[:4])
	switch ua.MessageKind(messageType) {
	case ua.MessageKindHello, ua.MessageKindAck, ua.MessageKindError,
		ua.MessageKindOpen, ua.MessageKindClose, ua.MessageKindMsg:
	default:
		return nil, ua.BadTCPMessageTypeInvalid
	}
	messageSize := binary.LittleEndian.Uint32(b[4:8])
	if messageSize < chunkHeaderSize {
		return nil, ua.BadTCPMessageTypeInvalid
	}
	if f.receiveBufferSize > 0 && messageSize > f.receiveBufferSize {
		return nil, ua.BadTCPMessageTooLarge
	}
	if uint32(buf.Len()) < messageSize {
		return nil, nil
	}
	chunk := make([]byte, messageSize)
	buf.Read(chunk)
	return chunk, nil
}
