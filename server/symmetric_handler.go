package server

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
	"io"
	"sync"

	"github.com/djherbis/buffer"
	"go.uber.org/zap"

	"github.com/uamesh/uasc/ua"
)

// symmetricHeaderSize is the size of the fixed header plus the symmetric
// security header: message header (8), channel id (4), token id (4).
const symmetricHeaderSize = 16

// ServiceHandler receives the reassembled plaintext body of each MSG
// message. Replies go back through Reply on the same handler.
type ServiceHandler func(h *SymmetricHandler, ch *SecureChannel, requestID uint32, message []byte)

// SymmetricHandler handles MSG traffic once a token has been issued. It is
// installed in front of the asymmetric handler, so OPN and CLO chunks keep
// flowing to the handshake handler below it. Inbound chunks are verified and
// decrypted against the key epoch named by their token id; the first chunk
// received under a renewed token id activates it.
type SymmetricHandler struct {
	srv       *Server
	logger    *zap.SugaredLogger
	channelID uint32

	mu                 sync.Mutex
	body               buffer.BufferAt
	chunkCount         int
	requestID          uint32
	lastSequenceNumber uint32
	accumulating       bool
}

// NewSymmetricHandler returns a handler for the channel. The handler holds
// only the channel id and resolves the channel on each use.
func NewSymmetricHandler(srv *Server, channelID uint32) *SymmetricHandler {
	return &SymmetricHandler{
		srv:       srv,
		logger:    srv.logger,
		channelID: channelID,
		body:      buffer.NewPartitionAt(bufferPool),
	}
}

// Owns claims MSG chunks.
func (h *SymmetricHandler) Owns(messageType uint32) bool {
	return ua.MessageKind(messageType) == ua.MessageKindMsg
}

// TransportClosed releases accumulated message state.
func (h *SymmetricHandler) TransportClosed(t *Transport) {
	h.mu.Lock()
	h.body.Reset()
	h.chunkCount = 0
	h.accumulating = false
	h.mu.Unlock()
}

// HandleChunk verifies, decrypts and reassembles one MSG chunk.
func (h *SymmetricHandler) HandleChunk(t *Transport, chunk []byte) error {
	messageType := binary.LittleEndian.Uint32(chunk[:4])
	chunkType := ua.ChunkType(messageType)

	h.mu.Lock()
	defer h.mu.Unlock()

	if chunkType == ua.ChunkTypeAbort {
		h.body.Reset()
		h.chunkCount = 0
		h.accumulating = false
		return nil
	}

	ch, ok := h.srv.manager.Get(h.channelID)
	if !ok {
		return ua.BadTCPSecureChannelUnknown
	}
	if len(chunk) < symmetricHeaderSize+sequenceHeaderSize {
		return ua.BadDecodingError
	}
	if binary.LittleEndian.Uint32(chunk[8:12]) != h.channelID {
		return ua.BadTCPSecureChannelUnknown
	}
	tokenID := binary.LittleEndian.Uint32(chunk[12:16])

	sec := ch.Security()
	if sec == nil {
		return ua.BadSecurityChecksFailed
	}
	epoch, ok := sec.EpochFor(tokenID)
	if !ok {
		return ua.BadSecureChannelTokenUnknown
	}

	mode := ch.SecurityMode()
	policy := ch.SecurityPolicy()

	plain := make([]byte, len(chunk))
	copy(plain, chunk)

	// decrypt
	if mode == ua.MessageSecurityModeSignAndEncrypt {
		block, err := aes.NewCipher(epoch.Keys.Remote.EncryptingKey)
		if err != nil {
			return ua.BadSecurityChecksFailed
		}
		span := plain[symmetricHeaderSize:]
		if len(span)%block.BlockSize() != 0 {
			return ua.BadDecodingError
		}
		decryptor := cipher.NewCBCDecrypter(block, epoch.Keys.Remote.InitializationVector)
		decryptor.CryptBlocks(span, span)
	}

	// verify
	signatureSize := 0
	if mode != ua.MessageSecurityModeNone {
		signatureSize = policy.SymSignatureSize()
		sigStart := len(plain) - signatureSize
		if sigStart < symmetricHeaderSize+sequenceHeaderSize {
			return ua.BadDecodingError
		}
		mac := policy.SymHMACFactory(epoch.Keys.Remote.SigningKey)
		if _, err := mac.Write(plain[:sigStart]); err != nil {
			return ua.BadDecodingError
		}
		if !hmac.Equal(mac.Sum(nil), plain[sigStart:]) {
			return ua.BadSecurityChecksFailed
		}
	}

	// sequence header
	sequenceNumber := binary.LittleEndian.Uint32(plain[symmetricHeaderSize : symmetricHeaderSize+4])
	requestID := binary.LittleEndian.Uint32(plain[symmetricHeaderSize+4 : symmetricHeaderSize+8])
	if h.accumulating {
		if sequenceNumber != h.lastSequenceNumber+1 {
			return ua.BadSecurityChecksFailed
		}
		if requestID != h.requestID {
			return ua.BadSecurityChecksFailed
		}
	} else {
		h.requestID = requestID
		h.accumulating = true
	}
	h.lastSequenceNumber = sequenceNumber

	// body
	bodyStart := symmetricHeaderSize + sequenceHeaderSize
	bodyEnd := len(plain) - signatureSize
	if mode == ua.MessageSecurityModeSignAndEncrypt {
		paddingHeaderSize := 1
		blockSize := policy.SymEncryptionBlockSize()
		if blockSize > 256 {
			paddingHeaderSize = 2
		}
		start := len(plain) - signatureSize - paddingHeaderSize
		if start < bodyStart {
			return ua.BadDecodingError
		}
		var paddingSize int
		if paddingHeaderSize == 2 {
			paddingSize = int(binary.LittleEndian.Uint16(plain[start : start+2]))
		} else {
			paddingSize = int(plain[start])
		}
		bodyEnd = len(plain) - signatureSize - paddingSize - paddingHeaderSize
	}
	if bodyEnd < bodyStart {
		return ua.BadDecodingError
	}
	if _, err := h.body.Write(plain[bodyStart:bodyEnd]); err != nil {
		return ua.BadDecodingError
	}

	h.chunkCount++
	if limit := int(t.Limits().MaxChunkCount); limit > 0 && h.chunkCount > limit {
		return ua.BadTCPMessageTooLarge
	}
	if limit := int64(t.Limits().MaxMessageSize); limit > 0 && h.body.Len() > limit {
		return ua.BadTCPMessageTooLarge
	}

	if chunkType != ua.ChunkTypeFinal {
		return nil
	}

	message := make([]byte, h.body.Len())
	if _, err := io.ReadFull(h.body, message); err != nil {
		return ua.BadDecodingError
	}
	h.body.Reset()
	h.chunkCount = 0
	h.accumulating = false

	if handler := h.srv.serviceHandler; handler != nil {
		handler(h, ch, h.requestID, message)
	} else {
		h.logger.Debugw("no service handler installed; dropping message",
			"channelID", h.channelID, "requestID", h.requestID)
	}
	return nil
}

// Reply encodes the message body under the channel's current key epoch and
// writes it to the bound transport.
func (h *SymmetricHandler) Reply(ch *SecureChannel, requestID uint32, message []byte) error {
	t := ch.Transport()
	if t == nil {
		return ua.BadSecureChannelClosed
	}
	chunks, err := EncodeSymmetric(ch, t.Limits(), message, requestID)
	if err != nil {
		return err
	}
	return t.WriteChunks(chunks)
}

// EncodeSymmetric splits a plaintext message into MSG chunks signed and
// encrypted under the channel's current key epoch.
func EncodeSymmetric(ch *SecureChannel, limits Limits, message []byte, requestID uint32) ([][]byte, error) {
	sec := ch.Security()
	if sec == nil {
		return nil, ua.BadSecurityChecksFailed
	}
	epoch := sec.Current()
	mode := ch.SecurityMode()
	policy := ch.SecurityPolicy()
	signatureSize := policy.SymSignatureSize()
	encryptionBlockSize := policy.SymEncryptionBlockSize()

	if i := int(limits.MaxMessageSize); i > 0 && len(message) > i {
		return nil, ua.BadEncodingLimitsExceeded
	}

	var chunks [][]byte
	var chunkCount int
	bodyCount := len(message)
	offset := 0

	for bodyCount > 0 || chunkCount == 0 {
		chunkCount++
		if i := int(limits.MaxChunkCount); i > 0 && chunkCount > i {
			return nil, ua.BadEncodingLimitsExceeded
		}

		var paddingHeaderSize int
		var maxBodySize int
		var bodySize int
		var paddingSize int
		var chunkSize int
		if mode == ua.MessageSecurityModeSignAndEncrypt {
			if encryptionBlockSize > 256 {
				paddingHeaderSize = 2
			} else {
				paddingHeaderSize = 1
			}
			maxBodySize = (((int(limits.SendBufferSize) - symmetricHeaderSize) / encryptionBlockSize) * encryptionBlockSize) - sequenceHeaderSize - paddingHeaderSize - signatureSize
			if bodyCount < maxBodySize {
				bodySize = bodyCount
				paddingSize = (encryptionBlockSize - ((sequenceHeaderSize + bodySize + paddingHeaderSize + signatureSize) % encryptionBlockSize)) % encryptionBlockSize
			} else {
				bodySize = maxBodySize
				paddingSize = 0
			}
			chunkSize = symmetricHeaderSize + sequenceHeaderSize + bodySize + paddingSize + paddingHeaderSize + signatureSize

		} else {
			sigSize := 0
			if mode == ua.MessageSecurityModeSign {
				sigSize = signatureSize
			}
			maxBodySize = int(limits.SendBufferSize) - symmetricHeaderSize - sequenceHeaderSize - sigSize
			if bodyCount < maxBodySize {
				bodySize = bodyCount
			} else {
				bodySize = maxBodySize
			}
			chunkSize = symmetricHeaderSize + sequenceHeaderSize + bodySize + sigSize
		}

		stream := ua.NewWriter(make([]byte, limits.SendBufferSize))
		enc := ua.NewBinaryEncoder(stream)

		// header
		if bodyCount > bodySize {
			enc.WriteUInt32(ua.MessageTypeChunk)
		} else {
			enc.WriteUInt32(ua.MessageTypeFinal)
		}
		enc.WriteUInt32(uint32(chunkSize))
		enc.WriteUInt32(ch.ChannelID())

		// symmetric security header
		enc.WriteUInt32(epoch.Token.TokenID)

		// sequence header
		enc.WriteUInt32(ch.NextSequenceNumber())
		enc.WriteUInt32(requestID)

		// body
		if _, err := stream.Write(message[offset : offset+bodySize]); err != nil {
			return nil, ua.BadEncodingError
		}
		offset += bodySize
		bodyCount -= bodySize

		// padding
		if mode == ua.MessageSecurityModeSignAndEncrypt {
			paddingByte := byte(paddingSize & 0xFF)
			enc.WriteByte(paddingByte)
			for i := 0; i < paddingSize; i++ {
				enc.WriteByte(paddingByte)
			}
			if paddingHeaderSize == 2 {
				extraPaddingByte := byte((paddingSize >> 8) & 0xFF)
				enc.WriteByte(extraPaddingByte)
			}
		}

		// sign
		if mode != ua.MessageSecurityModeNone {
			mac := policy.SymHMACFactory(epoch.Keys.Local.SigningKey)
			if _, err := mac.Write(stream.Bytes()); err != nil {
				return nil, ua.BadEncodingError
			}
			if _, err := stream.Write(mac.Sum(nil)); err != nil {
				return nil, ua.BadEncodingError
			}
		}

		// encrypt
		out := make([]byte, stream.Len())
		copy(out, stream.Bytes())
		if mode == ua.MessageSecurityModeSignAndEncrypt {
			block, err := aes.NewCipher(epoch.Keys.Local.EncryptingKey)
			if err != nil {
				return nil, ua.BadEncodingError
			}
			encryptor := cipher.NewCBCEncrypter(block, epoch.Keys.Local.InitializationVector)
			encryptor.CryptBlocks(out[symmetricHeaderSize:], out[symmetricHeaderSize:])
		}
		chunks = append(chunks, out)
	}

	return chunks, nil
}
