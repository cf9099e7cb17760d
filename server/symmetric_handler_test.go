package server

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uamesh/uasc/ua"
)

// symmetricFixture wires a client-oriented channel and a server-side
// symmetric handler sharing derived keys, without a live handshake.
type symmetricFixture struct {
	srv       *Server
	serverCh  *SecureChannel
	clientCh  *SecureChannel
	handler   *SymmetricHandler
	transport *Transport
	received  chan []byte
}

func newSymmetricFixture(t *testing.T, mode ua.MessageSecurityMode) *symmetricFixture {
	t.Helper()
	received := make(chan []byte, 8)
	srv := New("opc.tcp://localhost:4840", ua.NewSecureChannelCodecRegistry(), NewCertificateStore(), testLogger(),
		WithServiceHandler(func(h *SymmetricHandler, ch *SecureChannel, requestID uint32, message []byte) {
			received <- message
		}))
	t.Cleanup(func() { srv.Close() })

	policy := policyForTest(t, ua.SecurityPolicyURIBasic256Sha256)
	clientNonce := nextNonce(policy.NonceSize())
	serverNonce := nextNonce(policy.NonceSize())

	serverCh := srv.ChannelManager().Open()
	serverCh.SetSecurityPolicy(ua.SecurityPolicyURIBasic256Sha256, policy)
	serverCh.SetSecurityMode(mode)
	token := ua.ChannelSecurityToken{ChannelID: serverCh.ChannelID(), TokenID: srv.ChannelManager().NextTokenID(), CreatedAt: time.Now(), RevisedLifetime: 300000}
	serverCh.SetSecurity(NewChannelSecurity(DeriveSecuritySecrets(policy, clientNonce, serverNonce), token))

	clientCh := newSecureChannel(serverCh.ChannelID())
	clientCh.SetSecurityPolicy(ua.SecurityPolicyURIBasic256Sha256, policy)
	clientCh.SetSecurityMode(mode)
	clientCh.SetSecurity(NewChannelSecurity(DeriveSecuritySecrets(policy, serverNonce, clientNonce), token))

	conn, peer := net.Pipe()
	t.Cleanup(func() { conn.Close(); peer.Close() })

	return &symmetricFixture{
		srv:       srv,
		serverCh:  serverCh,
		clientCh:  clientCh,
		handler:   NewSymmetricHandler(srv, serverCh.ChannelID()),
		transport: NewTransport(conn, testLogger(), testLimits()),
		received:  received,
	}
}

func TestSymmetricRoundTripSignAndEncrypt(t *testing.T) {
	f := newSymmetricFixture(t, ua.MessageSecurityModeSignAndEncrypt)
	message := []byte("symmetric service request body")

	chunks, err := EncodeSymmetric(f.clientCh, testLimits(), message, 21)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	require.NoError(t, f.handler.HandleChunk(f.transport, chunks[0]))
	select {
	case got := <-f.received:
		require.Equal(t, message, got)
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestSymmetricRoundTripSignOnly(t *testing.T) {
	f := newSymmetricFixture(t, ua.MessageSecurityModeSign)
	message := []byte("signed only body")

	chunks, err := EncodeSymmetric(f.clientCh, testLimits(), message, 22)
	require.NoError(t, err)

	require.NoError(t, f.handler.HandleChunk(f.transport, chunks[0]))
	require.Equal(t, message, <-f.received)
}

func TestSymmetricRoundTripMultiChunk(t *testing.T) {
	f := newSymmetricFixture(t, ua.MessageSecurityModeSignAndEncrypt)
	limits := testLimits()
	limits.SendBufferSize = 128
	message := bytes.Repeat([]byte("0123456789abcdef"), 16) // 256 bytes

	chunks, err := EncodeSymmetric(f.clientCh, limits, message, 23)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		require.NoError(t, f.handler.HandleChunk(f.transport, chunk))
	}
	require.Equal(t, message, <-f.received)
}

func TestSymmetricTamperedSignatureFails(t *testing.T) {
	f := newSymmetricFixture(t, ua.MessageSecurityModeSignAndEncrypt)

	chunks, err := EncodeSymmetric(f.clientCh, testLimits(), []byte("body"), 24)
	require.NoError(t, err)
	chunks[0][len(chunks[0])-1] ^= 0xFF

	err = f.handler.HandleChunk(f.transport, chunks[0])
	require.Error(t, err)
}

func TestSymmetricUnknownTokenFails(t *testing.T) {
	f := newSymmetricFixture(t, ua.MessageSecurityModeSignAndEncrypt)

	chunks, err := EncodeSymmetric(f.clientCh, testLimits(), []byte("body"), 25)
	require.NoError(t, err)
	// clobber the token id field
	chunks[0][12] ^= 0xFF

	err = f.handler.HandleChunk(f.transport, chunks[0])
	require.Equal(t, ua.BadSecureChannelTokenUnknown, err)
}
