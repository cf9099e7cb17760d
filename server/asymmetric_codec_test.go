package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uamesh/uasc/ua"
)

func generateTestCertificate(t *testing.T, commonName string) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	return der, key
}

// pairedChannels returns a client-oriented and a server-oriented channel
// sharing certificates, so what one encodes the other decodes.
func pairedChannels(t *testing.T, uri string) (client, server *SecureChannel) {
	t.Helper()
	policyClient, err := ua.SecurityPolicyFromURI(uri)
	require.NoError(t, err)
	policyServer, err := ua.SecurityPolicyFromURI(uri)
	require.NoError(t, err)

	client = newSecureChannel(9)
	server = newSecureChannel(9)
	client.SetSecurityPolicy(uri, policyClient)
	server.SetSecurityPolicy(uri, policyServer)

	if uri != ua.SecurityPolicyURINone {
		clientCert, clientKey := generateTestCertificate(t, "test-client")
		serverCert, serverKey := generateTestCertificate(t, "test-server")
		client.SetLocalKeyPair(clientCert, clientKey)
		client.SetRemoteCertificate(serverCert, &serverKey.PublicKey)
		server.SetLocalKeyPair(serverCert, serverKey)
		server.SetRemoteCertificate(clientCert, &clientKey.PublicKey)
	}
	return client, server
}

func testLimits() Limits {
	return Limits{
		ReceiveBufferSize: 65535,
		SendBufferSize:    65535,
		MaxMessageSize:    16 * 1024 * 1024,
		MaxChunkCount:     64,
	}
}

func TestAsymmetricRoundTripNone(t *testing.T) {
	client, server := pairedChannels(t, ua.SecurityPolicyURINone)
	message := []byte("open secure channel request body")

	chunks, err := EncodeAsymmetric(client, testLimits(), message, 77)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	got, requestID, err := DecodeAsymmetric(server, testLimits(), chunks)
	require.NoError(t, err)
	require.Equal(t, message, got)
	require.Equal(t, uint32(77), requestID)
}

func TestAsymmetricRoundTripNoneMultiChunk(t *testing.T) {
	client, server := pairedChannels(t, ua.SecurityPolicyURINone)
	limits := testLimits()
	limits.SendBufferSize = uint32(16 + len(ua.SecurityPolicyURINone) + 8 + sequenceHeaderSize + 32)
	message := bytes.Repeat([]byte("abcdefgh"), 16) // 128 bytes, 4 chunks of 32

	chunks, err := EncodeAsymmetric(client, limits, message, 5)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	require.Equal(t, ua.MessageTypeOpenChunk, binary.LittleEndian.Uint32(chunks[0][:4]))
	require.Equal(t, ua.MessageTypeOpenFinal, binary.LittleEndian.Uint32(chunks[3][:4]))

	got, requestID, err := DecodeAsymmetric(server, testLimits(), chunks)
	require.NoError(t, err)
	require.Equal(t, message, got)
	require.Equal(t, uint32(5), requestID)
}

func TestAsymmetricRoundTripBasic256Sha256(t *testing.T) {
	client, server := pairedChannels(t, ua.SecurityPolicyURIBasic256Sha256)
	message := []byte("signed and encrypted request body")

	chunks, err := EncodeAsymmetric(client, testLimits(), message, 11)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	got, requestID, err := DecodeAsymmetric(server, testLimits(), chunks)
	require.NoError(t, err)
	require.Equal(t, message, got)
	require.Equal(t, uint32(11), requestID)
}

func TestAsymmetricRoundTripBasic256Sha256MultiChunk(t *testing.T) {
	client, server := pairedChannels(t, ua.SecurityPolicyURIBasic256Sha256)
	limits := testLimits()
	plainHeaderSize := 16 + len(ua.SecurityPolicyURIBasic256Sha256) + 28 + len(client.LocalCertificate())
	// room for three 256-byte ciphertext blocks per chunk
	limits.SendBufferSize = uint32(plainHeaderSize + 3*256)
	message := bytes.Repeat([]byte{0xAB}, 900)

	chunks, err := EncodeAsymmetric(client, limits, message, 11)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	got, requestID, err := DecodeAsymmetric(server, testLimits(), chunks)
	require.NoError(t, err)
	require.Equal(t, message, got)
	require.Equal(t, uint32(11), requestID)
}

func TestAsymmetricRoundTripBasic128Rsa15(t *testing.T) {
	client, server := pairedChannels(t, ua.SecurityPolicyURIBasic128Rsa15)
	message := []byte("pkcs1 padded body")

	chunks, err := EncodeAsymmetric(client, testLimits(), message, 3)
	require.NoError(t, err)

	got, requestID, err := DecodeAsymmetric(server, testLimits(), chunks)
	require.NoError(t, err)
	require.Equal(t, message, got)
	require.Equal(t, uint32(3), requestID)
}

func TestAsymmetricDecodeTamperedCiphertext(t *testing.T) {
	client, server := pairedChannels(t, ua.SecurityPolicyURIBasic256Sha256)

	chunks, err := EncodeAsymmetric(client, testLimits(), []byte("body"), 1)
	require.NoError(t, err)
	chunks[0][len(chunks[0])-1] ^= 0xFF

	_, _, err = DecodeAsymmetric(server, testLimits(), chunks)
	require.Equal(t, ua.BadSecurityChecksFailed, err)
}

// rawOpenChunk builds an unsecured OPN chunk by hand.
func rawOpenChunk(messageType uint32, channelID uint32, policyURI string, sequenceNumber, requestID uint32, body []byte) []byte {
	var buf bytes.Buffer
	enc := ua.NewBinaryEncoder(&buf)
	enc.WriteUInt32(messageType)
	enc.WriteUInt32(0) // patched below
	enc.WriteUInt32(channelID)
	enc.WriteString(policyURI)
	enc.WriteByteArray(nil)
	enc.WriteByteArray(nil)
	enc.WriteUInt32(sequenceNumber)
	enc.WriteUInt32(requestID)
	buf.Write(body)
	chunk := buf.Bytes()
	binary.LittleEndian.PutUint32(chunk[4:8], uint32(len(chunk)))
	return chunk
}

func TestAsymmetricDecodeHeaderMismatchAcrossChunks(t *testing.T) {
	_, server := pairedChannels(t, ua.SecurityPolicyURINone)
	chunks := [][]byte{
		rawOpenChunk(ua.MessageTypeOpenChunk, 9, ua.SecurityPolicyURINone, 1, 7, []byte("aa")),
		rawOpenChunk(ua.MessageTypeOpenFinal, 9, ua.SecurityPolicyURIBasic256, 2, 7, []byte("bb")),
	}

	_, _, err := DecodeAsymmetric(server, testLimits(), chunks)
	require.Equal(t, ua.BadSecurityChecksFailed, err)
}

func TestAsymmetricDecodeOutOfOrderSequence(t *testing.T) {
	_, server := pairedChannels(t, ua.SecurityPolicyURINone)
	chunks := [][]byte{
		rawOpenChunk(ua.MessageTypeOpenChunk, 9, ua.SecurityPolicyURINone, 2, 7, []byte("aa")),
		rawOpenChunk(ua.MessageTypeOpenFinal, 9, ua.SecurityPolicyURINone, 1, 7, []byte("bb")),
	}

	_, _, err := DecodeAsymmetric(server, testLimits(), chunks)
	require.Equal(t, ua.BadSecurityChecksFailed, err)
}

func TestAsymmetricDecodeRequestIDMismatch(t *testing.T) {
	_, server := pairedChannels(t, ua.SecurityPolicyURINone)
	chunks := [][]byte{
		rawOpenChunk(ua.MessageTypeOpenChunk, 9, ua.SecurityPolicyURINone, 1, 7, []byte("aa")),
		rawOpenChunk(ua.MessageTypeOpenFinal, 9, ua.SecurityPolicyURINone, 2, 8, []byte("bb")),
	}

	_, _, err := DecodeAsymmetric(server, testLimits(), chunks)
	require.Equal(t, ua.BadSecurityChecksFailed, err)
}
