package server

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uamesh/uasc/ua"
)

// cryptoClient drives a Basic256Sha256 handshake using the asymmetric codec
// from the client side.
type cryptoClient struct {
	t        *testing.T
	conn     net.Conn
	registry *ua.CodecRegistry
	ch       *SecureChannel
}

func (c *cryptoClient) open(requestType ua.SecurityTokenRequestType, clientNonce []byte, requestID uint32) (*ua.OpenSecureChannelResponse, error) {
	c.t.Helper()
	req := &ua.OpenSecureChannelRequest{
		RequestHeader: ua.RequestHeader{
			Timestamp:     time.Now(),
			RequestHandle: 1,
		},
		RequestType:       requestType,
		SecurityMode:      ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:       ua.ByteString(clientNonce),
		RequestedLifetime: 300000,
	}
	var body bytes.Buffer
	require.NoError(c.t, c.registry.EncodeMessage(ua.NewBinaryEncoder(&body), req))

	chunks, err := EncodeAsymmetric(c.ch, testLimits(), body.Bytes(), requestID)
	require.NoError(c.t, err)
	for _, chunk := range chunks {
		if _, err := c.conn.Write(chunk); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, 65535)
	n, err := readChunk(c.conn, buf)
	if err != nil {
		return nil, err
	}
	chunk := buf[:n]
	if binary.LittleEndian.Uint32(chunk[:4]) == ua.MessageTypeError {
		return nil, ua.StatusCode(binary.LittleEndian.Uint32(chunk[8:12]))
	}

	message, gotRequestID, err := DecodeAsymmetric(c.ch, testLimits(), [][]byte{chunk})
	require.NoError(c.t, err)
	require.Equal(c.t, requestID, gotRequestID)

	msg, err := c.registry.DecodeMessage(ua.NewBinaryDecoder(bytes.NewReader(message)))
	require.NoError(c.t, err)
	res, ok := msg.(*ua.OpenSecureChannelResponse)
	require.True(c.t, ok)
	return res, nil
}

func TestIssueBasic256Sha256SignAndEncrypt(t *testing.T) {
	serverCert, serverKey := generateTestCertificate(t, "crypto-server")
	clientCert, clientKey := generateTestCertificate(t, "crypto-client")

	store := NewCertificateStore()
	store.Add(serverCert, serverKey)
	srv := New("opc.tcp://localhost:4840", ua.NewSecureChannelCodecRegistry(), store, testLogger())
	clientConn, serverConn := net.Pipe()
	go srv.ServeConn(serverConn)
	t.Cleanup(func() { clientConn.Close(); srv.Close() })

	hello := &testClient{t: t, conn: clientConn, registry: ua.NewSecureChannelCodecRegistry()}
	hello.hello()

	policy := policyForTest(t, ua.SecurityPolicyURIBasic256Sha256)
	clientCh := newSecureChannel(0)
	clientCh.SetSecurityPolicy(ua.SecurityPolicyURIBasic256Sha256, policy)
	clientCh.SetLocalKeyPair(clientCert, clientKey)
	clientCh.SetRemoteCertificate(serverCert, &serverKey.PublicKey)

	client := &cryptoClient{t: t, conn: clientConn, registry: ua.NewSecureChannelCodecRegistry(), ch: clientCh}

	clientNonce := nextNonce(policy.NonceSize())
	res, err := client.open(ua.SecurityTokenRequestTypeIssue, clientNonce, 1)
	require.NoError(t, err)
	require.True(t, res.ResponseHeader.ServiceResult.IsGood())
	require.Len(t, []byte(res.ServerNonce), 32)

	ch, ok := srv.ChannelManager().Get(res.SecurityToken.ChannelID)
	require.True(t, ok)
	require.Equal(t, ua.MessageSecurityModeSignAndEncrypt, ch.SecurityMode())
	require.Equal(t, clientCert, ch.RemoteCertificate())

	// both sides derive identical secrets from the two nonces
	expected := DeriveSecuritySecrets(policy, clientNonce, []byte(res.ServerNonce))
	secrets := ch.Security().Current().Keys
	require.Equal(t, expected, secrets)
	require.Len(t, secrets.Local.SigningKey, 32)
	require.Len(t, secrets.Local.EncryptingKey, 32)
	require.Len(t, secrets.Local.InitializationVector, 16)

	// renewal on the same transport with the same certificate
	renewCh := newSecureChannel(res.SecurityToken.ChannelID)
	renewCh.SetSecurityPolicy(ua.SecurityPolicyURIBasic256Sha256, policy)
	renewCh.SetLocalKeyPair(clientCert, clientKey)
	renewCh.SetRemoteCertificate(serverCert, &serverKey.PublicKey)
	client.ch = renewCh

	newNonce := nextNonce(policy.NonceSize())
	renewed, err := client.open(ua.SecurityTokenRequestTypeRenew, newNonce, 2)
	require.NoError(t, err)
	require.Equal(t, res.SecurityToken.TokenID+1, renewed.SecurityToken.TokenID)
	require.NotEqual(t, res.ServerNonce, renewed.ServerNonce)

	prev := ch.Security().Previous()
	require.NotNil(t, prev)
	require.Equal(t, res.SecurityToken.TokenID, prev.Token.TokenID)
	require.Equal(t, expected, prev.Keys)
}

func TestIssueUnknownThumbprintFails(t *testing.T) {
	serverCert, serverKey := generateTestCertificate(t, "crypto-server")
	clientCert, clientKey := generateTestCertificate(t, "crypto-client")

	// empty store: the receiver thumbprint cannot be resolved
	srv := New("opc.tcp://localhost:4840", ua.NewSecureChannelCodecRegistry(), NewCertificateStore(), testLogger())
	clientConn, serverConn := net.Pipe()
	go srv.ServeConn(serverConn)
	t.Cleanup(func() { clientConn.Close(); srv.Close() })

	hello := &testClient{t: t, conn: clientConn, registry: ua.NewSecureChannelCodecRegistry()}
	hello.hello()

	policy := policyForTest(t, ua.SecurityPolicyURIBasic256Sha256)
	clientCh := newSecureChannel(0)
	clientCh.SetSecurityPolicy(ua.SecurityPolicyURIBasic256Sha256, policy)
	clientCh.SetLocalKeyPair(clientCert, clientKey)
	clientCh.SetRemoteCertificate(serverCert, &serverKey.PublicKey)

	client := &cryptoClient{t: t, conn: clientConn, registry: ua.NewSecureChannelCodecRegistry(), ch: clientCh}
	_, err := client.open(ua.SecurityTokenRequestTypeIssue, nextNonce(policy.NonceSize()), 1)
	require.Equal(t, ua.BadSecurityChecksFailed, err)

	require.Zero(t, srv.ChannelManager().Len())
}
