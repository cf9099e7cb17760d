package server

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"io"

	"github.com/djherbis/buffer"

	"github.com/uamesh/uasc/ua"
)

// sequenceHeaderSize is the size of the sequence header: 4-byte sequence
// number, 4-byte request id.
const sequenceHeaderSize = 8

// AsymmetricSecurityHeader is the security header of an OpenSecureChannel
// chunk. Its field-wise equality is the identity of a handshake in progress.
type AsymmetricSecurityHeader struct {
	SecurityPolicyURI             string
	SenderCertificate             []byte
	ReceiverCertificateThumbprint []byte
}

// Equal reports field-wise equality.
func (h *AsymmetricSecurityHeader) Equal(o *AsymmetricSecurityHeader) bool {
	return h.SecurityPolicyURI == o.SecurityPolicyURI &&
		bytes.Equal(h.SenderCertificate, o.SenderCertificate) &&
		bytes.Equal(h.ReceiverCertificateThumbprint, o.ReceiverCertificateThumbprint)
}

func decodeAsymmetricSecurityHeader(dec *ua.BinaryDecoder) (*AsymmetricSecurityHeader, error) {
	h := new(AsymmetricSecurityHeader)
	if err := dec.ReadString(&h.SecurityPolicyURI); err != nil {
		return nil, ua.BadDecodingError
	}
	if err := dec.ReadByteArray(&h.SenderCertificate); err != nil {
		return nil, ua.BadDecodingError
	}
	if err := dec.ReadByteArray(&h.ReceiverCertificateThumbprint); err != nil {
		return nil, ua.BadDecodingError
	}
	return h, nil
}

// DecodeAsymmetric decrypts and verifies the chunks of one
// OpenSecureChannel message and returns the concatenated plaintext body
// together with the request id carried by the first chunk. The channel's
// security policy and key material must already be resolved.
func DecodeAsymmetric(ch *SecureChannel, limits Limits, chunks [][]byte) ([]byte, uint32, error) {
	policy := ch.SecurityPolicy()
	secured := policy.PolicyURI() != ua.SecurityPolicyURINone

	bodyStream := buffer.NewPartitionAt(bufferPool)
	defer bodyStream.Reset()

	var firstHeader *AsymmetricSecurityHeader
	var requestID uint32
	var lastSequenceNumber uint32

	for i, chunk := range chunks {
		reader := bytes.NewReader(chunk)
		dec := ua.NewBinaryDecoder(reader)

		var messageType, messageSize, channelID uint32
		if err := dec.ReadUInt32(&messageType); err != nil {
			return nil, 0, ua.BadDecodingError
		}
		if err := dec.ReadUInt32(&messageSize); err != nil {
			return nil, 0, ua.BadDecodingError
		}
		if int(messageSize) != len(chunk) {
			return nil, 0, ua.BadDecodingError
		}
		if err := dec.ReadUInt32(&channelID); err != nil {
			return nil, 0, ua.BadDecodingError
		}

		header, err := decodeAsymmetricSecurityHeader(dec)
		if err != nil {
			return nil, 0, err
		}
		if firstHeader == nil {
			firstHeader = header
		} else if !header.Equal(firstHeader) {
			return nil, 0, ua.BadSecurityChecksFailed
		}
		plainHeaderSize := len(chunk) - reader.Len()

		plain := make([]byte, len(chunk))
		copy(plain, chunk[:plainHeaderSize])
		messageLength := len(chunk)

		// decrypt
		if secured {
			priv := ch.LocalPrivateKey()
			if priv == nil {
				return nil, 0, ua.BadSecurityChecksFailed
			}
			cipherTextBlockSize := priv.Size()
			if (len(chunk)-plainHeaderSize)%cipherTextBlockSize != 0 {
				return nil, 0, ua.BadSecurityChecksFailed
			}
			jj := plainHeaderSize
			for ii := plainHeaderSize; ii < len(chunk); ii += cipherTextBlockSize {
				plainText, err := policy.RSADecrypt(priv, chunk[ii:ii+cipherTextBlockSize])
				if err != nil {
					return nil, 0, ua.BadSecurityChecksFailed
				}
				jj += copy(plain[jj:], plainText)
			}
			messageLength = jj // msg is shorter after decryption
		} else {
			copy(plain, chunk)
		}

		// verify
		signatureSize := 0
		if secured {
			pub := ch.RemotePublicKey()
			if pub == nil {
				return nil, 0, ua.BadSecurityChecksFailed
			}
			signatureSize = pub.Size()
			sigStart := messageLength - signatureSize
			if sigStart < plainHeaderSize+sequenceHeaderSize {
				return nil, 0, ua.BadDecodingError
			}
			if err := policy.RSAVerify(pub, plain[:sigStart], plain[sigStart:messageLength]); err != nil {
				return nil, 0, ua.BadSecurityChecksFailed
			}
		}

		// sequence header
		if messageLength < plainHeaderSize+sequenceHeaderSize {
			return nil, 0, ua.BadDecodingError
		}
		sequenceNumber := binary.LittleEndian.Uint32(plain[plainHeaderSize : plainHeaderSize+4])
		chunkRequestID := binary.LittleEndian.Uint32(plain[plainHeaderSize+4 : plainHeaderSize+8])
		if i == 0 {
			requestID = chunkRequestID
		} else {
			if sequenceNumber != lastSequenceNumber+1 {
				return nil, 0, ua.BadSecurityChecksFailed
			}
			if chunkRequestID != requestID {
				return nil, 0, ua.BadSecurityChecksFailed
			}
		}
		lastSequenceNumber = sequenceNumber

		// body
		var bodyStart, bodyEnd int
		bodyStart = plainHeaderSize + sequenceHeaderSize
		if secured {
			cipherTextBlockSize := ch.LocalPrivateKey().Size()
			paddingHeaderSize := 1
			if cipherTextBlockSize > 256 {
				paddingHeaderSize = 2
			}
			start := messageLength - signatureSize - paddingHeaderSize
			if start < bodyStart {
				return nil, 0, ua.BadDecodingError
			}
			var paddingSize int
			if paddingHeaderSize == 2 {
				paddingSize = int(binary.LittleEndian.Uint16(plain[start : start+2]))
			} else {
				paddingSize = int(plain[start])
			}
			bodyEnd = messageLength - signatureSize - paddingSize - paddingHeaderSize
		} else {
			bodyEnd = messageLength
		}
		if bodyEnd < bodyStart {
			return nil, 0, ua.BadDecodingError
		}
		if _, err := bodyStream.Write(plain[bodyStart:bodyEnd]); err != nil {
			return nil, 0, ua.BadDecodingError
		}
		if max := int64(limits.MaxMessageSize); max > 0 && bodyStream.Len() > max {
			return nil, 0, ua.BadEncodingLimitsExceeded
		}
	}

	message := make([]byte, bodyStream.Len())
	if _, err := io.ReadFull(bodyStream, message); err != nil {
		return nil, 0, ua.BadDecodingError
	}
	return message, requestID, nil
}

// EncodeAsymmetric splits the plaintext message into chunks sized so each
// plaintext block maps to one RSA operation, then signs and encrypts each
// chunk. The returned chunks are framed and ready for the transport.
func EncodeAsymmetric(ch *SecureChannel, limits Limits, message []byte, requestID uint32) ([][]byte, error) {
	policy := ch.SecurityPolicy()
	secured := policy.PolicyURI() != ua.SecurityPolicyURINone
	securityPolicyURI := ch.SecurityPolicyURI()
	localCertificate := ch.LocalCertificate()
	remoteCertificate := ch.RemoteCertificate()

	if i := int(limits.MaxMessageSize); i > 0 && len(message) > i {
		return nil, ua.BadEncodingLimitsExceeded
	}

	var chunks [][]byte
	var chunkCount int
	bodyCount := len(message)
	offset := 0

	for bodyCount > 0 {
		chunkCount++
		if i := int(limits.MaxChunkCount); i > 0 && chunkCount > i {
			return nil, ua.BadEncodingLimitsExceeded
		}

		var plainHeaderSize int
		var signatureSize int
		var paddingHeaderSize int
		var maxBodySize int
		var bodySize int
		var paddingSize int
		var chunkSize int
		var cipherTextBlockSize int
		var plainTextBlockSize int
		if secured {
			priv := ch.LocalPrivateKey()
			pub := ch.RemotePublicKey()
			if priv == nil || pub == nil {
				return nil, ua.BadSecurityChecksFailed
			}
			plainHeaderSize = 16 + len(securityPolicyURI) + 28 + len(localCertificate)
			signatureSize = priv.Size()
			cipherTextBlockSize = pub.Size()
			plainTextBlockSize = cipherTextBlockSize - policy.RSAPaddingSize()
			if cipherTextBlockSize > 256 {
				paddingHeaderSize = 2
			} else {
				paddingHeaderSize = 1
			}
			maxBodySize = (((int(limits.SendBufferSize) - plainHeaderSize) / cipherTextBlockSize) * plainTextBlockSize) - sequenceHeaderSize - paddingHeaderSize - signatureSize
			if maxBodySize <= 0 {
				return nil, ua.BadEncodingLimitsExceeded
			}
			if bodyCount < maxBodySize {
				bodySize = bodyCount
				paddingSize = (plainTextBlockSize - ((sequenceHeaderSize + bodySize + paddingHeaderSize + signatureSize) % plainTextBlockSize)) % plainTextBlockSize
			} else {
				bodySize = maxBodySize
				paddingSize = 0
			}
			chunkSize = plainHeaderSize + (((sequenceHeaderSize + bodySize + paddingSize + paddingHeaderSize + signatureSize) / plainTextBlockSize) * cipherTextBlockSize)

		} else {
			plainHeaderSize = 16 + len(securityPolicyURI) + 8
			signatureSize = 0
			paddingHeaderSize = 0
			paddingSize = 0
			cipherTextBlockSize = 1
			plainTextBlockSize = 1
			maxBodySize = int(limits.SendBufferSize) - plainHeaderSize - sequenceHeaderSize
			if maxBodySize <= 0 {
				return nil, ua.BadEncodingLimitsExceeded
			}
			if bodyCount < maxBodySize {
				bodySize = bodyCount
			} else {
				bodySize = maxBodySize
			}
			chunkSize = plainHeaderSize + sequenceHeaderSize + bodySize
		}

		stream := ua.NewWriter(make([]byte, limits.SendBufferSize))
		enc := ua.NewBinaryEncoder(stream)

		// header
		if bodyCount > bodySize {
			enc.WriteUInt32(ua.MessageTypeOpenChunk)
		} else {
			enc.WriteUInt32(ua.MessageTypeOpenFinal)
		}
		enc.WriteUInt32(uint32(chunkSize))
		enc.WriteUInt32(ch.ChannelID())

		// asymmetric security header
		enc.WriteString(securityPolicyURI)
		if secured {
			enc.WriteByteArray(localCertificate)
			thumbprint := sha1.Sum(remoteCertificate)
			enc.WriteByteArray(thumbprint[:])
		} else {
			enc.WriteByteArray(nil)
			enc.WriteByteArray(nil)
		}

		if plainHeaderSize != stream.Len() {
			return nil, ua.BadEncodingError
		}

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
		if secured {
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
		if secured {
			signature, err := policy.RSASign(ch.LocalPrivateKey(), stream.Bytes())
			if err != nil {
				return nil, ua.BadSecurityChecksFailed
			}
			if len(signature) != signatureSize {
				return nil, ua.BadEncodingError
			}
			if _, err := stream.Write(signature); err != nil {
				return nil, ua.BadEncodingError
			}
		}

		// encrypt
		if secured {
			plaintextLen := stream.Len()
			out := make([]byte, chunkSize)
			copy(out, stream.Bytes()[:plainHeaderSize])
			plainText := make([]byte, plainTextBlockSize)
			jj := plainHeaderSize
			for ii := plainHeaderSize; ii < plaintextLen; ii += plainTextBlockSize {
				copy(plainText, stream.Bytes()[ii:])
				// encrypt with remote public key.
				cipherText, err := policy.RSAEncrypt(ch.RemotePublicKey(), plainText)
				if err != nil {
					return nil, ua.BadSecurityChecksFailed
				}
				if len(cipherText) != cipherTextBlockSize {
					return nil, ua.BadEncodingError
				}
				copy(out[jj:], cipherText)
				jj += cipherTextBlockSize
			}
			if jj != chunkSize {
				return nil, ua.BadEncodingError
			}
			chunks = append(chunks, out)

		} else {
			if stream.Len() != chunkSize {
				return nil, ua.BadEncodingError
			}
			out := make([]byte, chunkSize)
			copy(out, stream.Bytes())
			chunks = append(chunks, out)
		}
	}

	return chunks, nil
}
