package server

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"github.com/uamesh/uasc/ua"
)

// AsymmetricHandler terminates the OpenSecureChannel handshake for one
// transport. It accumulates OPN chunks, hands complete messages to the
// serialization queue for decryption, drives the issue/renew state
// transitions and installs the symmetric handler in front of itself once
// the first token is issued.
type AsymmetricHandler struct {
	srv    *Server
	logger *zap.SugaredLogger
	queue  *SerializationQueue

	mu                 sync.Mutex
	channelID          uint32
	allocated          bool
	chunks             [][]byte
	headerRef          *AsymmetricSecurityHeader
	busy               bool
	decodeInFlight     bool
	backlog            deque.Deque[[]byte]
	symmetricInstalled bool
}

// NewAsymmetricHandler returns a handler for a freshly negotiated transport.
func NewAsymmetricHandler(srv *Server) *AsymmetricHandler {
	return &AsymmetricHandler{
		srv:    srv,
		logger: srv.logger,
		queue:  srv.queue,
	}
}

// Owns claims OPN and CLO chunks.
func (h *AsymmetricHandler) Owns(messageType uint32) bool {
	switch ua.MessageKind(messageType) {
	case ua.MessageKindOpen, ua.MessageKindClose:
		return true
	}
	return false
}

// HandleChunk processes one complete chunk. While a decode job is in
// flight, chunks of subsequent messages are held back and replayed once the
// job completes.
func (h *AsymmetricHandler) HandleChunk(t *Transport, chunk []byte) error {
	h.mu.Lock()
	if h.busy {
		h.backlog.PushBack(chunk)
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()
	return h.route(t, chunk)
}

// TransportClosed releases accumulated chunks and removes the channel. Any
// pending crypto job's result is discarded when it arrives.
func (h *AsymmetricHandler) TransportClosed(t *Transport) {
	h.mu.Lock()
	h.chunks = nil
	h.headerRef = nil
	h.backlog.Clear()
	channelID := h.channelID
	h.mu.Unlock()
	if channelID == 0 {
		return
	}
	if ch, ok := h.srv.manager.Get(channelID); ok && ch.Transport() == t {
		h.srv.manager.Delete(ch)
		ch.setClosed()
		h.queue.Forget(ch)
	}
}

func (h *AsymmetricHandler) route(t *Transport, chunk []byte) error {
	messageType := binary.LittleEndian.Uint32(chunk[:4])
	switch ua.MessageKind(messageType) {
	case ua.MessageKindClose:
		return h.handleClose(t)
	case ua.MessageKindOpen:
		return h.handleOpen(t, chunk)
	default:
		return ua.BadTCPMessageTypeInvalid
	}
}

// handleClose closes the channel and discards the message. Closing is a
// terminal action; no response is sent and no error is raised.
func (h *AsymmetricHandler) handleClose(t *Transport) error {
	h.mu.Lock()
	channelID := h.channelID
	h.channelID = 0
	h.chunks = nil
	h.headerRef = nil
	h.mu.Unlock()
	if channelID == 0 {
		return nil
	}
	if ch, ok := h.srv.manager.Get(channelID); ok {
		h.logger.Infow("received CloseSecureChannelRequest", "channelID", channelID)
		h.srv.manager.Close(ch)
		h.queue.Forget(ch)
	}
	return nil
}

func (h *AsymmetricHandler) handleOpen(t *Transport, chunk []byte) error {
	chunkType := ua.ChunkType(binary.LittleEndian.Uint32(chunk[:4]))

	if chunkType == ua.ChunkTypeAbort {
		h.mu.Lock()
		h.chunks = nil
		h.headerRef = nil
		allocated := h.allocated
		channelID := h.channelID
		h.allocated = false
		if allocated {
			h.channelID = 0
		}
		h.mu.Unlock()
		if allocated && channelID != 0 {
			if ch, ok := h.srv.manager.Get(channelID); ok && ch.Security() == nil {
				h.srv.manager.Delete(ch)
			}
		}
		return nil
	}

	if len(chunk) < 12 {
		return ua.BadDecodingError
	}
	secureChannelID := binary.LittleEndian.Uint32(chunk[8:12])
	dec := ua.NewBinaryDecoder(bytes.NewReader(chunk[12:]))
	header, err := decodeAsymmetricSecurityHeader(dec)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.headerRef == nil {
		ch, err := h.resolveChannel(t, secureChannelID, header)
		if err != nil {
			return err
		}
		if err := h.applySecurityHeader(ch, header); err != nil {
			if h.allocated {
				h.srv.manager.Delete(ch)
				h.allocated = false
				h.channelID = 0
			}
			return err
		}
		h.headerRef = header
	} else if !header.Equal(h.headerRef) {
		return ua.BadSecurityChecksFailed
	}

	h.chunks = append(h.chunks, chunk)
	if limit := int(t.Limits().MaxChunkCount); limit > 0 && len(h.chunks) > limit {
		return ua.BadTCPMessageTooLarge
	}

	switch chunkType {
	case ua.ChunkTypeIntermediate:
		return nil
	case ua.ChunkTypeFinal:
		ch, ok := h.srv.manager.Get(h.channelID)
		if !ok {
			return ua.BadTCPSecureChannelUnknown
		}
		toDecode := h.chunks
		h.chunks = nil
		h.headerRef = nil
		h.busy = true
		h.decodeInFlight = true
		h.queue.SubmitDecode(ch, t.Limits(), toDecode, func(res DecodeResult, err error) {
			h.onDecoded(t, ch, res, err)
		})
		return nil
	default:
		return ua.BadTCPMessageTypeInvalid
	}
}

// resolveChannel maps the chunk's secure channel id to a channel: zero
// allocates a fresh channel, non-zero must name a live channel and passes
// the renewal guards. Called with h.mu held, on the first chunk of a
// message only.
func (h *AsymmetricHandler) resolveChannel(t *Transport, secureChannelID uint32, header *AsymmetricSecurityHeader) (*SecureChannel, error) {
	if secureChannelID == 0 {
		ch := h.srv.manager.Open()
		ch.BindTransport(t)
		h.channelID = ch.ChannelID()
		h.allocated = true
		return ch, nil
	}

	ch, ok := h.srv.manager.Get(secureChannelID)
	if !ok {
		return nil, ua.BadTCPSecureChannelUnknown
	}
	if !bytes.Equal(ch.RemoteCertificate(), header.SenderCertificate) {
		h.logger.Warnw("certificate requesting renewal did not match existing certificate",
			"channelID", secureChannelID)
		return nil, ua.BadSecurityChecksFailed
	}
	if bound := ch.Transport(); bound != nil && bound != t {
		h.logger.Warnw("received a renewal request from a transport other than the bound transport",
			"channelID", secureChannelID)
		return nil, ua.BadSecurityChecksFailed
	}
	h.channelID = secureChannelID
	h.allocated = false
	return ch, nil
}

// applySecurityHeader resolves the security policy, the peer certificate
// and the local key pair named by the header. Called with h.mu held.
func (h *AsymmetricHandler) applySecurityHeader(ch *SecureChannel, header *AsymmetricSecurityHeader) error {
	policy, err := ua.SecurityPolicyFromURI(header.SecurityPolicyURI)
	if err != nil {
		return ua.BadSecurityPolicyRejected
	}
	ch.SetSecurityPolicy(header.SecurityPolicyURI, policy)

	if header.SenderCertificate != nil {
		cert, err := x509.ParseCertificate(header.SenderCertificate)
		if err != nil {
			return ua.BadCertificateInvalid
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return ua.BadCertificateInvalid
		}
		ch.SetRemoteCertificate(header.SenderCertificate, pub)
	}

	if header.ReceiverCertificateThumbprint != nil {
		certificate, key, ok := h.srv.store.GetByThumbprint(header.ReceiverCertificateThumbprint)
		if !ok {
			h.logger.Warnw("no certificate for provided thumbprint", "channelID", ch.ChannelID())
			return ua.BadSecurityChecksFailed
		}
		ch.SetLocalKeyPair(certificate, key)
	}
	return nil
}

// onDecoded runs on the channel's serialization queue once the decode job
// completes.
func (h *AsymmetricHandler) onDecoded(t *Transport, ch *SecureChannel, res DecodeResult, err error) {
	select {
	case <-t.Closed():
		// transport is gone; discard the result
		return
	default:
	}
	if err != nil {
		h.fail(t, ch, 0, err)
		return
	}

	dec := ua.NewBinaryDecoder(bytes.NewReader(res.Message))
	msg, err := h.srv.registry.DecodeMessage(dec)
	if err != nil {
		h.fail(t, ch, res.RequestID, err)
		return
	}
	req, ok := msg.(*ua.OpenSecureChannelRequest)
	if !ok {
		h.fail(t, ch, res.RequestID, ua.BadTCPMessageTypeInvalid)
		return
	}
	if req.ClientProtocolVersion < protocolVersion {
		h.fail(t, ch, res.RequestID, ua.BadProtocolVersionUnsupported)
		return
	}

	h.logger.Infow("received OpenSecureChannelRequest",
		"requestType", req.RequestType, "channelID", ch.ChannelID(), "requestID", res.RequestID)

	switch req.RequestType {
	case ua.SecurityTokenRequestTypeIssue:
		h.issueSecurityToken(t, ch, req, res.RequestID)
	case ua.SecurityTokenRequestTypeRenew:
		h.renewSecurityToken(t, ch, req, res.RequestID)
	default:
		h.fail(t, ch, res.RequestID, ua.BadRequestTypeInvalid)
	}
}

func (h *AsymmetricHandler) issueSecurityToken(t *Transport, ch *SecureChannel, req *ua.OpenSecureChannelRequest, requestID uint32) {
	if ch.Security() != nil {
		h.fail(t, ch, requestID, ua.BadSecurityChecksFailed)
		return
	}
	if err := validateSecurityMode(ch, req.SecurityMode); err != nil {
		h.fail(t, ch, requestID, err)
		return
	}
	ch.SetSecurityMode(req.SecurityMode)

	keys, localNonce, err := makeKeys(ch, req)
	if err != nil {
		h.fail(t, ch, requestID, err)
		return
	}

	token := ua.ChannelSecurityToken{
		ChannelID:       ch.ChannelID(),
		TokenID:         h.srv.manager.NextTokenID(),
		CreatedAt:       time.Now(),
		RevisedLifetime: h.srv.reviseLifetime(req.RequestedLifetime),
	}
	ch.SetSecurity(NewChannelSecurity(keys, token))

	h.mu.Lock()
	h.allocated = false
	h.mu.Unlock()

	h.respond(t, ch, req, token, localNonce, requestID, true)
}

func (h *AsymmetricHandler) renewSecurityToken(t *Transport, ch *SecureChannel, req *ua.OpenSecureChannelRequest, requestID uint32) {
	sec := ch.Security()
	if sec == nil {
		// renewal of a channel that never had a token, including a renewal
		// carrying secure channel id zero
		h.fail(t, ch, requestID, ua.BadTCPSecureChannelUnknown)
		return
	}
	if req.SecurityMode != ch.SecurityMode() {
		h.logger.Warnw("secure channel renewal requested a different MessageSecurityMode",
			"channelID", ch.ChannelID())
		h.fail(t, ch, requestID, ua.BadSecurityChecksFailed)
		return
	}

	keys, localNonce, err := makeKeys(ch, req)
	if err != nil {
		h.fail(t, ch, requestID, err)
		return
	}

	token := ua.ChannelSecurityToken{
		ChannelID:       ch.ChannelID(),
		TokenID:         h.srv.manager.NextTokenID(),
		CreatedAt:       time.Now(),
		RevisedLifetime: h.srv.reviseLifetime(req.RequestedLifetime),
	}
	sec.Renew(keys, token)

	h.respond(t, ch, req, token, localNonce, requestID, false)
}

// makeKeys generates the server nonce and derives the symmetric key set for
// the channel's mode. For mode None the nonce is empty and no keys are
// derived.
func makeKeys(ch *SecureChannel, req *ua.OpenSecureChannelRequest) (*SecuritySecrets, []byte, error) {
	if ch.SecurityMode() == ua.MessageSecurityModeNone {
		ch.SetNonces([]byte{}, []byte(req.ClientNonce))
		return nil, []byte{}, nil
	}
	policy := ch.SecurityPolicy()
	remoteNonce := []byte(req.ClientNonce)
	if len(remoteNonce) != policy.NonceSize() {
		return nil, nil, ua.BadNonceInvalid
	}
	localNonce := nextNonce(policy.NonceSize())
	ch.SetNonces(localNonce, remoteNonce)
	return DeriveSecuritySecrets(policy, remoteNonce, localNonce), localNonce, nil
}

func validateSecurityMode(ch *SecureChannel, mode ua.MessageSecurityMode) error {
	secured := ch.SecurityPolicyURI() != ua.SecurityPolicyURINone
	switch mode {
	case ua.MessageSecurityModeNone:
		if secured {
			return ua.BadSecurityModeRejected
		}
	case ua.MessageSecurityModeSign, ua.MessageSecurityModeSignAndEncrypt:
		if !secured {
			return ua.BadSecurityModeRejected
		}
	default:
		return ua.BadSecurityModeRejected
	}
	return nil
}

// respond encodes and writes the OpenSecureChannelResponse, installs the
// symmetric handler on the first issue and arms the token lifetime timer.
func (h *AsymmetricHandler) respond(t *Transport, ch *SecureChannel, req *ua.OpenSecureChannelRequest, token ua.ChannelSecurityToken, serverNonce []byte, requestID uint32, issued bool) {
	res := &ua.OpenSecureChannelResponse{
		ResponseHeader: ua.ResponseHeader{
			Timestamp:     time.Now(),
			RequestHandle: req.RequestHeader.RequestHandle,
			ServiceResult: ua.Good,
		},
		ServerProtocolVersion: protocolVersion,
		SecurityToken:         token,
		ServerNonce:           ua.ByteString(serverNonce),
	}

	var body bytes.Buffer
	enc := ua.NewBinaryEncoder(&body)
	if err := h.srv.registry.EncodeMessage(enc, res); err != nil {
		h.fail(t, ch, requestID, err)
		return
	}

	h.queue.SubmitEncode(ch, t.Limits(), body.Bytes(), requestID, func(chunks [][]byte, err error) {
		if err != nil {
			h.fail(t, ch, requestID, err)
			return
		}
		if issued && !h.installed() {
			t.PushFront(NewSymmetricHandler(h.srv, ch.ChannelID()))
			h.setInstalled()
		}
		if err := t.WriteChunks(chunks); err != nil {
			h.fail(t, ch, requestID, err)
			return
		}
		h.srv.manager.IssuedOrRenewed(ch, token.RevisedLifetime)
		if issued {
			h.logger.Infow("issued security token",
				"channelID", token.ChannelID, "tokenID", token.TokenID, "lifetime", token.RevisedLifetime)
		} else {
			h.logger.Infow("renewed security token",
				"channelID", token.ChannelID, "tokenID", token.TokenID, "lifetime", token.RevisedLifetime)
		}
		h.finish(t)
	})
}

func (h *AsymmetricHandler) installed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.symmetricInstalled
}

func (h *AsymmetricHandler) setInstalled() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.symmetricInstalled = true
}

// fail closes the transport and removes the channel if no token was ever
// issued on it, so no partial state survives.
func (h *AsymmetricHandler) fail(t *Transport, ch *SecureChannel, requestID uint32, err error) {
	h.logger.Warnw("secure channel handshake failed",
		"channelID", ch.ChannelID(), "requestID", requestID, "error", err)
	if ch.Security() == nil {
		h.srv.manager.Delete(ch)
		h.mu.Lock()
		if h.allocated {
			h.allocated = false
			h.channelID = 0
		}
		h.mu.Unlock()
	}
	h.mu.Lock()
	h.busy = false
	h.decodeInFlight = false
	h.backlog.Clear()
	h.mu.Unlock()
	t.Abort(err)
}

// finish marks the in-flight job done and replays chunks held back while it
// ran. The handler stays busy during replay so chunks arriving from the
// transport keep queueing behind the replayed ones; replay stops if a
// replayed final chunk starts a new decode job.
func (h *AsymmetricHandler) finish(t *Transport) {
	h.mu.Lock()
	h.decodeInFlight = false
	h.mu.Unlock()
	for {
		h.mu.Lock()
		if h.backlog.Len() == 0 {
			h.busy = false
			h.mu.Unlock()
			return
		}
		chunk := h.backlog.PopFront()
		h.mu.Unlock()

		if err := h.route(t, chunk); err != nil {
			t.Abort(err)
			return
		}
		h.mu.Lock()
		started := h.decodeInFlight
		h.mu.Unlock()
		if started {
			return
		}
	}
}
