package server

import (
	"crypto/rsa"
	"math"
	"sync"

	"github.com/uamesh/uasc/ua"
)

// SecureChannel is the per-channel mutable record: negotiated security
// settings, certificates, nonces, the active key epochs and the bound
// transport. It is created by the ChannelManager when the first chunk of an
// OpenSecureChannel message with secure channel id zero arrives, and is
// removed again if the handshake fails before a token is issued. Its fields
// are guarded by the embedded RWMutex.
type SecureChannel struct {
	sync.RWMutex
	channelID         uint32
	securityPolicyURI string
	securityPolicy    ua.SecurityPolicy
	securityMode      ua.MessageSecurityMode
	localCertificate  []byte
	localPrivateKey   *rsa.PrivateKey
	remoteCertificate []byte
	remotePublicKey   *rsa.PublicKey
	localNonce        []byte
	remoteNonce       []byte
	security          *ChannelSecurity
	transport         *Transport
	sequenceNumber    uint32
	closed            bool
}

func newSecureChannel(id uint32) *SecureChannel {
	policy, _ := ua.SecurityPolicyFromURI(ua.SecurityPolicyURINone)
	return &SecureChannel{
		channelID:         id,
		securityPolicyURI: ua.SecurityPolicyURINone,
		securityPolicy:    policy,
	}
}

// ChannelID gets the channel id.
func (ch *SecureChannel) ChannelID() uint32 {
	ch.RLock()
	defer ch.RUnlock()
	return ch.channelID
}

// SecurityPolicyURI returns the negotiated security policy URI.
func (ch *SecureChannel) SecurityPolicyURI() string {
	ch.RLock()
	defer ch.RUnlock()
	return ch.securityPolicyURI
}

// SecurityPolicy returns the negotiated security policy.
func (ch *SecureChannel) SecurityPolicy() ua.SecurityPolicy {
	ch.RLock()
	defer ch.RUnlock()
	return ch.securityPolicy
}

// SetSecurityPolicy sets the security policy for the channel.
func (ch *SecureChannel) SetSecurityPolicy(uri string, policy ua.SecurityPolicy) {
	ch.Lock()
	defer ch.Unlock()
	ch.securityPolicyURI = uri
	ch.securityPolicy = policy
}

// SecurityMode returns the message security mode.
func (ch *SecureChannel) SecurityMode() ua.MessageSecurityMode {
	ch.RLock()
	defer ch.RUnlock()
	return ch.securityMode
}

// SetSecurityMode sets the message security mode.
func (ch *SecureChannel) SetSecurityMode(mode ua.MessageSecurityMode) {
	ch.Lock()
	defer ch.Unlock()
	ch.securityMode = mode
}

// LocalCertificate returns the server certificate in DER form.
func (ch *SecureChannel) LocalCertificate() []byte {
	ch.RLock()
	defer ch.RUnlock()
	return ch.localCertificate
}

// LocalPrivateKey returns the private key matching the local certificate.
func (ch *SecureChannel) LocalPrivateKey() *rsa.PrivateKey {
	ch.RLock()
	defer ch.RUnlock()
	return ch.localPrivateKey
}

// SetLocalKeyPair sets the server certificate and private key.
func (ch *SecureChannel) SetLocalKeyPair(certificate []byte, key *rsa.PrivateKey) {
	ch.Lock()
	defer ch.Unlock()
	ch.localCertificate = certificate
	ch.localPrivateKey = key
}

// RemoteCertificate returns the client certificate in DER form.
func (ch *SecureChannel) RemoteCertificate() []byte {
	ch.RLock()
	defer ch.RUnlock()
	return ch.remoteCertificate
}

// RemotePublicKey returns the public key of the client certificate.
func (ch *SecureChannel) RemotePublicKey() *rsa.PublicKey {
	ch.RLock()
	defer ch.RUnlock()
	return ch.remotePublicKey
}

// SetRemoteCertificate sets the client certificate and its public key.
func (ch *SecureChannel) SetRemoteCertificate(certificate []byte, key *rsa.PublicKey) {
	ch.Lock()
	defer ch.Unlock()
	ch.remoteCertificate = certificate
	ch.remotePublicKey = key
}

// LocalNonce returns the most recent server nonce.
func (ch *SecureChannel) LocalNonce() []byte {
	ch.RLock()
	defer ch.RUnlock()
	return ch.localNonce
}

// RemoteNonce returns the most recent client nonce.
func (ch *SecureChannel) RemoteNonce() []byte {
	ch.RLock()
	defer ch.RUnlock()
	return ch.remoteNonce
}

// SetNonces stores the nonce pair contributed to the current key epoch.
func (ch *SecureChannel) SetNonces(local, remote []byte) {
	ch.Lock()
	defer ch.Unlock()
	ch.localNonce = local
	ch.remoteNonce = remote
}

// Security returns the channel's key epochs, or nil before the first issue.
func (ch *SecureChannel) Security() *ChannelSecurity {
	ch.RLock()
	defer ch.RUnlock()
	return ch.security
}

// SetSecurity installs the channel's key epochs.
func (ch *SecureChannel) SetSecurity(s *ChannelSecurity) {
	ch.Lock()
	defer ch.Unlock()
	ch.security = s
}

// Transport returns the bound transport, or nil.
func (ch *SecureChannel) Transport() *Transport {
	ch.RLock()
	defer ch.RUnlock()
	return ch.transport
}

// BindTransport binds the channel to a transport. A channel has exactly one
// bound transport at any instant.
func (ch *SecureChannel) BindTransport(t *Transport) {
	ch.Lock()
	defer ch.Unlock()
	ch.transport = t
}

// NextSequenceNumber gets the next sequence number, skipping zero.
func (ch *SecureChannel) NextSequenceNumber() uint32 {
	ch.Lock()
	defer ch.Unlock()
	if ch.sequenceNumber == math.MaxUint32 {
		ch.sequenceNumber = 0
	}
	ch.sequenceNumber++
	return ch.sequenceNumber
}

// Closed reports whether the channel has been closed.
func (ch *SecureChannel) Closed() bool {
	ch.RLock()
	defer ch.RUnlock()
	return ch.closed
}

func (ch *SecureChannel) setClosed() {
	ch.Lock()
	defer ch.Unlock()
	ch.closed = true
}
