package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// CertificateStore holds DER certificates and their RSA private keys,
// indexed by SHA-1 thumbprint, so the receiver thumbprint of an asymmetric
// security header can be resolved to a local key pair.
type CertificateStore struct {
	byThumbprint map[[sha1.Size]byte]*certEntry
}

type certEntry struct {
	certificate []byte
	key         *rsa.PrivateKey
}

// NewCertificateStore returns an empty store.
func NewCertificateStore() *CertificateStore {
	return &CertificateStore{byThumbprint: make(map[[sha1.Size]byte]*certEntry)}
}

// Add registers a certificate/key pair under the certificate's thumbprint.
func (s *CertificateStore) Add(certificate []byte, key *rsa.PrivateKey) {
	s.byThumbprint[sha1.Sum(certificate)] = &certEntry{certificate: certificate, key: key}
}

// GetByThumbprint returns the certificate and key matching the thumbprint.
func (s *CertificateStore) GetByThumbprint(thumbprint []byte) ([]byte, *rsa.PrivateKey, bool) {
	if len(thumbprint) != sha1.Size {
		return nil, nil, false
	}
	var tp [sha1.Size]byte
	copy(tp[:], thumbprint)
	entry, ok := s.byThumbprint[tp]
	if !ok {
		return nil, nil, false
	}
	return entry.certificate, entry.key, true
}

// Thumbprint returns the SHA-1 thumbprint of a DER certificate.
func Thumbprint(certificate []byte) []byte {
	tp := sha1.Sum(certificate)
	return tp[:]
}

// LoadCertificate reads a PEM certificate and its PEM private key from disk.
func LoadCertificate(certPath, keyPath string) ([]byte, *rsa.PrivateKey, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading certificate")
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, errors.New("no CERTIFICATE block in " + certPath)
	}
	certificate := block.Bytes

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading private key")
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, nil, errors.New("no key block in " + keyPath)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		pkcs8, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, nil, errors.Wrap(err, "parsing private key")
		}
		rsaKey, ok := pkcs8.(*rsa.PrivateKey)
		if !ok {
			return nil, nil, errors.New("private key is not RSA")
		}
		key = rsaKey
	}
	return certificate, key, nil
}

// GenerateSelfSigned creates a self-signed server certificate for the host
// and application URI and writes it to certPath/keyPath in PEM form.
func GenerateSelfSigned(certPath, keyPath, host, applicationURI string) ([]byte, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, errors.Wrap(err, "generating key")
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, errors.Wrap(err, "generating serial number")
	}

	appURI, err := url.Parse(applicationURI)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing application uri")
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment |
			x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		URIs:                  []*url.URL{appURI},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = append(template.IPAddresses, ip)
	} else {
		template.DNSNames = append(template.DNSNames, host)
	}

	certificate, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating certificate")
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "creating pki directory")
	}
	var certBuf bytes.Buffer
	if err := pem.Encode(&certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: certificate}); err != nil {
		return nil, nil, errors.Wrap(err, "encoding certificate")
	}
	if err := os.WriteFile(certPath, certBuf.Bytes(), 0o644); err != nil {
		return nil, nil, errors.Wrap(err, "writing certificate")
	}
	var keyBuf bytes.Buffer
	if err := pem.Encode(&keyBuf, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		return nil, nil, errors.Wrap(err, "encoding private key")
	}
	if err := os.WriteFile(keyPath, keyBuf.Bytes(), 0o600); err != nil {
		return nil, nil, errors.Wrap(err, "writing private key")
	}

	return certificate, key, nil
}
