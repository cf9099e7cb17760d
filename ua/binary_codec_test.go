package ua

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenSecureChannelRequestRoundTrip(t *testing.T) {
	req := &OpenSecureChannelRequest{
		RequestHeader: RequestHeader{
			Timestamp:     time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC),
			RequestHandle: 42,
			TimeoutHint:   15000,
		},
		ClientProtocolVersion: 0,
		RequestType:           SecurityTokenRequestTypeIssue,
		SecurityMode:          MessageSecurityModeSignAndEncrypt,
		ClientNonce:           ByteString("0123456789abcdef0123456789abcdef"),
		RequestedLifetime:     300000,
	}

	var buf bytes.Buffer
	require.NoError(t, NewBinaryEncoder(&buf).Encode(req))

	got := new(OpenSecureChannelRequest)
	require.NoError(t, NewBinaryDecoder(&buf).Decode(got))
	require.Equal(t, req, got)
}

func TestOpenSecureChannelResponseRoundTrip(t *testing.T) {
	res := &OpenSecureChannelResponse{
		ResponseHeader: ResponseHeader{
			Timestamp:     time.Date(2024, 5, 17, 10, 30, 1, 0, time.UTC),
			RequestHandle: 42,
			ServiceResult: Good,
		},
		ServerProtocolVersion: 0,
		SecurityToken: ChannelSecurityToken{
			ChannelID:       7,
			TokenID:         1,
			CreatedAt:       time.Date(2024, 5, 17, 10, 30, 1, 0, time.UTC),
			RevisedLifetime: 300000,
		},
		ServerNonce: ByteString("fedcba9876543210fedcba9876543210"),
	}

	var buf bytes.Buffer
	require.NoError(t, NewBinaryEncoder(&buf).Encode(res))

	got := new(OpenSecureChannelResponse)
	require.NoError(t, NewBinaryDecoder(&buf).Decode(got))
	require.Equal(t, res, got)
}

func TestCloseSecureChannelRequestRoundTrip(t *testing.T) {
	req := &CloseSecureChannelRequest{
		RequestHeader: RequestHeader{
			Timestamp:     time.Date(2024, 5, 17, 10, 35, 0, 0, time.UTC),
			RequestHandle: 43,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewBinaryEncoder(&buf).Encode(req))

	got := new(CloseSecureChannelRequest)
	require.NoError(t, NewBinaryDecoder(&buf).Decode(got))
	require.Equal(t, req, got)
}

func TestCodecRegistryDispatch(t *testing.T) {
	registry := NewSecureChannelCodecRegistry()

	req := &OpenSecureChannelRequest{
		RequestHeader: RequestHeader{
			Timestamp:     time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC),
			RequestHandle: 1,
		},
		RequestType:       SecurityTokenRequestTypeIssue,
		SecurityMode:      MessageSecurityModeNone,
		RequestedLifetime: 60000,
	}

	var buf bytes.Buffer
	require.NoError(t, registry.EncodeMessage(NewBinaryEncoder(&buf), req))

	msg, err := registry.DecodeMessage(NewBinaryDecoder(&buf))
	require.NoError(t, err)
	got, ok := msg.(*OpenSecureChannelRequest)
	require.True(t, ok)
	require.Equal(t, req, got)
}

func TestCodecRegistryUnknownID(t *testing.T) {
	registry := NewSecureChannelCodecRegistry()

	var buf bytes.Buffer
	enc := NewBinaryEncoder(&buf)
	require.NoError(t, enc.WriteNodeID(NewNodeIDNumeric(0, 9999)))

	_, err := registry.DecodeMessage(NewBinaryDecoder(&buf))
	require.Equal(t, BadDecodingError, err)
}

func TestByteStringNullEncoding(t *testing.T) {
	var buf bytes.Buffer
	enc := NewBinaryEncoder(&buf)
	require.NoError(t, enc.WriteByteString(""))
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, buf.Bytes())

	var got ByteString
	require.NoError(t, NewBinaryDecoder(&buf).ReadByteString(&got))
	require.Equal(t, ByteString(""), got)
}

func TestDateTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 17, 10, 30, 0, 123456700, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, NewBinaryEncoder(&buf).WriteDateTime(ts))

	var got time.Time
	require.NoError(t, NewBinaryDecoder(&buf).ReadDateTime(&got))
	require.True(t, ts.Equal(got))
}

func TestNodeIDCompactForms(t *testing.T) {
	cases := []NodeID{
		NewNodeIDNumeric(0, 255),
		NewNodeIDNumeric(0, 446),
		NewNodeIDNumeric(3, 1024),
		NewNodeIDNumeric(300, 70000),
	}
	for _, id := range cases {
		var buf bytes.Buffer
		require.NoError(t, NewBinaryEncoder(&buf).WriteNodeID(id))
		var got NodeID
		require.NoError(t, NewBinaryDecoder(&buf).ReadNodeID(&got))
		require.Equal(t, id, got)
	}
}

func TestStatusCodeSeverity(t *testing.T) {
	require.True(t, Good.IsGood())
	require.False(t, Good.IsBad())
	require.True(t, BadSecurityChecksFailed.IsBad())
	require.Equal(t, "BadSecurityChecksFailed", BadSecurityChecksFailed.Error())
}
