package server

import (
	"crypto/rand"
	"hash"

	"github.com/uamesh/uasc/ua"
)

// KeySet is one direction's worth of symmetric key material.
type KeySet struct {
	SigningKey           []byte
	EncryptingKey        []byte
	InitializationVector []byte
}

// SecuritySecrets holds the symmetric key material for both directions of a
// channel. Local keys sign and encrypt outbound traffic; remote keys verify
// and decrypt inbound traffic.
type SecuritySecrets struct {
	Local  KeySet
	Remote KeySet
}

// prf is the P_SHA key expansion: an HMAC chain A(i) over the seed, one
// output block appended per round, truncated to length. The mac must already
// be keyed with the secret.
func prf(mac hash.Hash, seed []byte, length int) []byte {
	out := make([]byte, 0, length)
	a := seed
	for len(out) < length {
		mac.Reset()
		mac.Write(a)
		a = mac.Sum(nil)

		mac.Reset()
		mac.Write(a)
		mac.Write(seed)
		out = append(out, mac.Sum(nil)...)
	}
	return out[:length]
}

// deriveKeySet stretches a secret/seed nonce pair into one direction's key
// set, using the policy's own HMAC as the PRF.
func deriveKeySet(policy ua.SecurityPolicy, secret, seed []byte) KeySet {
	signingLen := policy.SymSignatureKeySize()
	encryptionLen := policy.SymEncryptionKeySize()
	ivLen := policy.SymEncryptionBlockSize()

	material := prf(policy.SymHMACFactory(secret), seed, signingLen+encryptionLen+ivLen)
	return KeySet{
		SigningKey:           material[:signingLen],
		EncryptingKey:        material[signingLen : signingLen+encryptionLen],
		InitializationVector: material[signingLen+encryptionLen:],
	}
}

// DeriveSecuritySecrets derives the full symmetric key set for a channel.
// Local keys come from (remoteNonce, localNonce), remote keys from the
// swapped pair. Deterministic; no I/O.
func DeriveSecuritySecrets(policy ua.SecurityPolicy, remoteNonce, localNonce []byte) *SecuritySecrets {
	return &SecuritySecrets{
		Local:  deriveKeySet(policy, remoteNonce, localNonce),
		Remote: deriveKeySet(policy, localNonce, remoteNonce),
	}
}

// nextNonce returns a fresh random nonce of the requested length.
func nextNonce(length int) []byte {
	nonce := make([]byte, length)
	rand.Read(nonce)
	return nonce
}
