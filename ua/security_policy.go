package ua

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// SecurityPolicyURIs
const (
	SecurityPolicyURINone                = "http://opcfoundation.org/UA/SecurityPolicy#None"
	SecurityPolicyURIBasic128Rsa15       = "http://opcfoundation.org/UA/SecurityPolicy#Basic128Rsa15"
	SecurityPolicyURIBasic256            = "http://opcfoundation.org/UA/SecurityPolicy#Basic256"
	SecurityPolicyURIBasic256Sha256      = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"
	SecurityPolicyURIAes128Sha256RsaOaep = "http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep"
)

// SecurityPolicy exposes the cryptographic operations and size parameters of
// one security policy URI.
type SecurityPolicy interface {
	PolicyURI() string
	RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error)
	RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error
	RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error)
	RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error)
	SymHMACFactory(key []byte) hash.Hash
	RSAPaddingSize() int
	SymSignatureSize() int
	SymSignatureKeySize() int
	SymEncryptionBlockSize() int
	SymEncryptionKeySize() int
	NonceSize() int
}

// rsaScheme selects how OpenSecureChannel bodies are padded for the RSA
// transport encryption.
type rsaScheme int

const (
	rsaSchemeNone rsaScheme = iota
	rsaSchemePKCS1v15
	rsaSchemeOAEPSHA1
)

// securityPolicy implements SecurityPolicy from a table of algorithm
// choices. All supported policies are instances of this one struct; only the
// profile differs.
type securityPolicy struct {
	uri           string
	signatureHash crypto.Hash // digest for RSA signatures; 0 disables RSA
	encryption    rsaScheme
	hmacHash      func() hash.Hash

	symSignatureLen     int
	symSigningKeyLen    int
	symEncryptionKeyLen int
	symBlockLen         int
	nonceLen            int
}

// The asymmetric encryption keeps an OAEP SHA-1 padding even for the SHA-256
// policies; only Aes256_Sha256_RsaPss (not supported here) moves off SHA-1.
var securityPolicies = map[string]*securityPolicy{
	SecurityPolicyURINone: {
		uri:         SecurityPolicyURINone,
		symBlockLen: 1,
	},
	SecurityPolicyURIBasic128Rsa15: {
		uri:                 SecurityPolicyURIBasic128Rsa15,
		signatureHash:       crypto.SHA1,
		encryption:          rsaSchemePKCS1v15,
		hmacHash:            sha1.New,
		symSignatureLen:     sha1.Size,
		symSigningKeyLen:    16,
		symEncryptionKeyLen: 16,
		symBlockLen:         16,
		nonceLen:            16,
	},
	SecurityPolicyURIBasic256: {
		uri:                 SecurityPolicyURIBasic256,
		signatureHash:       crypto.SHA1,
		encryption:          rsaSchemeOAEPSHA1,
		hmacHash:            sha1.New,
		symSignatureLen:     sha1.Size,
		symSigningKeyLen:    24,
		symEncryptionKeyLen: 32,
		symBlockLen:         16,
		nonceLen:            32,
	},
	SecurityPolicyURIBasic256Sha256: {
		uri:                 SecurityPolicyURIBasic256Sha256,
		signatureHash:       crypto.SHA256,
		encryption:          rsaSchemeOAEPSHA1,
		hmacHash:            sha256.New,
		symSignatureLen:     sha256.Size,
		symSigningKeyLen:    32,
		symEncryptionKeyLen: 32,
		symBlockLen:         16,
		nonceLen:            32,
	},
	SecurityPolicyURIAes128Sha256RsaOaep: {
		uri:                 SecurityPolicyURIAes128Sha256RsaOaep,
		signatureHash:       crypto.SHA256,
		encryption:          rsaSchemeOAEPSHA1,
		hmacHash:            sha256.New,
		symSignatureLen:     sha256.Size,
		symSigningKeyLen:    32,
		symEncryptionKeyLen: 16,
		symBlockLen:         16,
		nonceLen:            32,
	},
}

// SecurityPolicyFromURI returns the SecurityPolicy for the given URI.
func SecurityPolicyFromURI(uri string) (SecurityPolicy, error) {
	if p, ok := securityPolicies[uri]; ok {
		return p, nil
	}
	return nil, BadSecurityPolicyRejected
}

func (p *securityPolicy) PolicyURI() string { return p.uri }

// RSASign signs plainText with an RSASSA-PKCS1-v1_5 signature over the
// policy's digest.
func (p *securityPolicy) RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error) {
	if p.signatureHash == 0 {
		return nil, BadSecurityPolicyRejected
	}
	digest := p.signatureHash.New()
	digest.Write(plainText)
	return rsa.SignPKCS1v15(rand.Reader, priv, p.signatureHash, digest.Sum(nil))
}

// RSAVerify checks an RSASSA-PKCS1-v1_5 signature over the policy's digest.
func (p *securityPolicy) RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error {
	if p.signatureHash == 0 {
		return BadSecurityPolicyRejected
	}
	digest := p.signatureHash.New()
	digest.Write(plainText)
	return rsa.VerifyPKCS1v15(pub, p.signatureHash, digest.Sum(nil), signature)
}

// RSAEncrypt encrypts one plaintext block with the policy's padding scheme.
func (p *securityPolicy) RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error) {
	switch p.encryption {
	case rsaSchemePKCS1v15:
		return rsa.EncryptPKCS1v15(rand.Reader, pub, plainText)
	case rsaSchemeOAEPSHA1:
		return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plainText, nil)
	default:
		return nil, BadSecurityPolicyRejected
	}
}

// RSADecrypt decrypts one ciphertext block with the policy's padding scheme.
func (p *securityPolicy) RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error) {
	switch p.encryption {
	case rsaSchemePKCS1v15:
		return rsa.DecryptPKCS1v15(rand.Reader, priv, cipherText)
	case rsaSchemeOAEPSHA1:
		return rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, cipherText, nil)
	default:
		return nil, BadSecurityPolicyRejected
	}
}

// SymHMACFactory returns an HMAC over the policy's symmetric digest, keyed
// with key. Nil for the None policy.
func (p *securityPolicy) SymHMACFactory(key []byte) hash.Hash {
	if p.hmacHash == nil {
		return nil
	}
	return hmac.New(p.hmacHash, key)
}

// RSAPaddingSize is the per-block overhead of the policy's padding scheme.
func (p *securityPolicy) RSAPaddingSize() int {
	switch p.encryption {
	case rsaSchemePKCS1v15:
		return 11
	case rsaSchemeOAEPSHA1:
		return 2*sha1.Size + 2
	default:
		return 0
	}
}

func (p *securityPolicy) SymSignatureSize() int { return p.symSignatureLen }

func (p *securityPolicy) SymSignatureKeySize() int { return p.symSigningKeyLen }

func (p *securityPolicy) SymEncryptionBlockSize() int {
	return p.symBlockLen
}

func (p *securityPolicy) SymEncryptionKeySize() int { return p.symEncryptionKeyLen }

func (p *securityPolicy) NonceSize() int { return p.nonceLen }
