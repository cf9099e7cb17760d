package server

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/uamesh/uasc/ua"
)

// Limits are the transport parameters negotiated during the Hello/Ack
// exchange.
type Limits struct {
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

// ChunkHandler consumes complete chunks delivered by the transport. The
// front-most handler owning the chunk's message kind receives it.
type ChunkHandler interface {
	// Owns reports whether the handler consumes chunks of this message type.
	Owns(messageType uint32) bool
	// HandleChunk processes one complete chunk.
	HandleChunk(t *Transport, chunk []byte) error
	// TransportClosed releases any per-message state held for the transport.
	TransportClosed(t *Transport)
}

// Transport drives one client connection: it owns the socket, the inbound
// accumulation buffer and the handler stack. Handlers are consulted front to
// back, so a handler installed with PushFront intercepts traffic ahead of
// the handlers behind it.
type Transport struct {
	conn        net.Conn
	logger      *zap.SugaredLogger
	limits      Limits
	framer      *Framer
	endpointURL string

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   []ChunkHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTransport wraps an accepted connection.
func NewTransport(conn net.Conn, logger *zap.SugaredLogger, limits Limits) *Transport {
	return &Transport{
		conn:   conn,
		logger: logger,
		limits: limits,
		framer: NewFramer(limits.ReceiveBufferSize),
		closed: make(chan struct{}),
	}
}

// Limits returns the negotiated transport limits.
func (t *Transport) Limits() Limits {
	return t.limits
}

// EndpointURL returns the endpoint url received in the Hello message.
func (t *Transport) EndpointURL() string {
	return t.endpointURL
}

// PushFront installs a handler ahead of all existing handlers.
func (t *Transport) PushFront(h ChunkHandler) {
	t.handlersMu.Lock()
	t.handlers = append([]ChunkHandler{h}, t.handlers...)
	t.handlersMu.Unlock()
}

// Append installs a handler behind all existing handlers.
func (t *Transport) Append(h ChunkHandler) {
	t.handlersMu.Lock()
	t.handlers = append(t.handlers, h)
	t.handlersMu.Unlock()
}

// Negotiate performs the Hello/Ack exchange, clamping the local limits to
// what the client can handle.
func (t *Transport) Negotiate(localProtocolVersion uint32) error {
	buf := make([]byte, t.limits.ReceiveBufferSize)
	n, err := readChunk(t.conn, buf)
	if err != nil {
		return ua.BadDecodingError
	}
	reader := bytes.NewReader(buf[:n])
	dec := ua.NewBinaryDecoder(reader)

	var messageType, messageSize uint32
	if err := dec.ReadUInt32(&messageType); err != nil {
		return ua.BadDecodingError
	}
	if err := dec.ReadUInt32(&messageSize); err != nil {
		return ua.BadDecodingError
	}
	if messageType != ua.MessageTypeHello || messageSize < 28 {
		return ua.BadTCPMessageTypeInvalid
	}

	var remoteProtocolVersion, remoteReceiveBufferSize, remoteSendBufferSize, remoteMaxMessageSize, remoteMaxChunkCount uint32
	if err := dec.ReadUInt32(&remoteProtocolVersion); err != nil {
		return ua.BadDecodingError
	}
	if remoteProtocolVersion < localProtocolVersion {
		return ua.BadProtocolVersionUnsupported
	}
	if err := dec.ReadUInt32(&remoteReceiveBufferSize); err != nil {
		return ua.BadDecodingError
	}
	if err := dec.ReadUInt32(&remoteSendBufferSize); err != nil {
		return ua.BadDecodingError
	}
	if err := dec.ReadUInt32(&remoteMaxMessageSize); err != nil {
		return ua.BadDecodingError
	}
	if err := dec.ReadUInt32(&remoteMaxChunkCount); err != nil {
		return ua.BadDecodingError
	}
	if err := dec.ReadString(&t.endpointURL); err != nil {
		return ua.BadDecodingError
	}

	// limit the receive buffer to what the sender can send
	if t.limits.ReceiveBufferSize > remoteSendBufferSize {
		t.limits.ReceiveBufferSize = remoteSendBufferSize
	}
	// limit the send buffer to what the receiver can receive
	if t.limits.SendBufferSize > remoteReceiveBufferSize {
		t.limits.SendBufferSize = remoteReceiveBufferSize
	}
	if remoteMaxMessageSize > 0 && t.limits.MaxMessageSize > remoteMaxMessageSize {
		t.limits.MaxMessageSize = remoteMaxMessageSize
	}
	if remoteMaxChunkCount > 0 && t.limits.MaxChunkCount > remoteMaxChunkCount {
		t.limits.MaxChunkCount = remoteMaxChunkCount
	}
	t.framer = NewFramer(t.limits.ReceiveBufferSize)

	ack := make([]byte, 28)
	writer := ua.NewWriter(ack)
	enc := ua.NewBinaryEncoder(writer)
	enc.WriteUInt32(ua.MessageTypeAck)
	enc.WriteUInt32(28)
	enc.WriteUInt32(localProtocolVersion)
	enc.WriteUInt32(t.limits.ReceiveBufferSize)
	enc.WriteUInt32(t.limits.SendBufferSize)
	enc.WriteUInt32(t.limits.MaxMessageSize)
	enc.WriteUInt32(t.limits.MaxChunkCount)
	if err := t.WriteChunk(writer.Bytes()); err != nil {
		return ua.BadEncodingError
	}
	return nil
}

// Run reads the connection until it closes, dispatching complete chunks to
// the handler stack. Run blocks; the server starts it on its own goroutine.
func (t *Transport) Run() {
	defer t.Close()
	var pending bytes.Buffer
	read := make([]byte, 4096)
	for {
		n, err := t.conn.Read(read)
		if n > 0 {
			pending.Write(read[:n])
			for {
				chunk, err := t.framer.Next(&pending)
				if err != nil {
					t.Abort(err)
					return
				}
				if chunk == nil {
					break
				}
				if err := t.dispatch(chunk); err != nil {
					t.Abort(err)
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *Transport) dispatch(chunk []byte) error {
	messageType := binary.LittleEndian.Uint32(chunk[:4])
	t.handlersMu.RLock()
	handlers := t.handlers
	t.handlersMu.RUnlock()
	for _, h := range handlers {
		if h.Owns(messageType) {
			return h.HandleChunk(t, chunk)
		}
	}
	return ua.BadTCPMessageTypeInvalid
}

// WriteChunk writes one framed chunk to the connection.
func (t *Transport) WriteChunk(p []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.write(p)
}

// WriteChunks writes the chunks of one message back to back, so chunks of
// concurrent messages never interleave.
func (t *Transport) WriteChunks(chunks [][]byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	for _, c := range chunks {
		if err := t.write(c); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) write(p []byte) error {
	n, err := t.conn.Write(p)
	if err != nil || n == 0 {
		t.Close()
		return ua.BadSecureChannelClosed
	}
	return nil
}

// Abort sends an ERR message carrying the status code, then closes the
// transport.
func (t *Transport) Abort(err error) {
	code, ok := err.(ua.StatusCode)
	if !ok {
		code = ua.BadTCPInternalError
	}
	message := code.Error()
	t.logger.Warnw("closing transport", "error", message)
	buf := make([]byte, 16+len(message))
	writer := ua.NewWriter(buf)
	enc := ua.NewBinaryEncoder(writer)
	enc.WriteUInt32(ua.MessageTypeError)
	enc.WriteUInt32(uint32(16 + len(message)))
	enc.WriteUInt32(uint32(code))
	enc.WriteString(message)
	t.WriteChunk(writer.Bytes())
	t.Close()
}

// Close shuts the connection down and notifies the handler stack.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.conn.Close()
		t.handlersMu.RLock()
		handlers := t.handlers
		t.handlersMu.RUnlock()
		for _, h := range handlers {
			h.TransportClosed(t)
		}
	})
}

// Closed returns a channel closed when the transport shuts down.
func (t *Transport) Closed() <-chan struct{} {
	return t.closed
}

// readChunk reads exactly one framed chunk from conn into p: the 8-byte
// header first, then the remainder per the message size field.
func readChunk(conn net.Conn, p []byte) (int, error) {
	if _, err := io.ReadFull(conn, p[:chunkHeaderSize]); err != nil {
		return 0, err
	}
	count := int(binary.LittleEndian.Uint32(p[4:8]))
	if count < chunkHeaderSize || count > len(p) {
		return 0, ua.BadTCPMessageTooLarge
	}
	if _, err := io.ReadFull(conn, p[chunkHeaderSize:count]); err != nil {
		return 0, err
	}
	return count, nil
}
