package server

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uamesh/uasc/ua"
)

func frameChunk(messageType uint32, payload []byte) []byte {
	chunk := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(chunk[:4], messageType)
	binary.LittleEndian.PutUint32(chunk[4:8], uint32(len(chunk)))
	copy(chunk[8:], payload)
	return chunk
}

func TestFramerWaitsForCompleteChunk(t *testing.T) {
	f := NewFramer(1024)
	chunk := frameChunk(ua.MessageTypeOpenFinal, []byte("payload-bytes"))

	var buf bytes.Buffer
	buf.Write(chunk[:10])

	got, err := f.Next(&buf)
	require.NoError(t, err)
	require.Nil(t, got)

	buf.Write(chunk[10:])
	got, err = f.Next(&buf)
	require.NoError(t, err)
	require.Equal(t, chunk, got)
	require.Zero(t, buf.Len())
}

func TestFramerSlicesBackToBackChunks(t *testing.T) {
	f := NewFramer(1024)
	first := frameChunk(ua.MessageTypeOpenChunk, []byte("first"))
	second := frameChunk(ua.MessageTypeOpenFinal, []byte("second"))

	var buf bytes.Buffer
	buf.Write(first)
	buf.Write(second)

	got, err := f.Next(&buf)
	require.NoError(t, err)
	require.Equal(t, first, got)

	got, err = f.Next(&buf)
	require.NoError(t, err)
	require.Equal(t, second, got)
}

func TestFramerRejectsUnknownMessageType(t *testing.T) {
	f := NewFramer(1024)
	chunk := frameChunk('X'|'Y'<<8|'Z'<<16|uint32('F')<<24, nil)

	var buf bytes.Buffer
	buf.Write(chunk)

	_, err := f.Next(&buf)
	require.Equal(t, ua.BadTCPMessageTypeInvalid, err)
}

func TestFramerRejectsOversizedChunk(t *testing.T) {
	f := NewFramer(32)
	chunk := frameChunk(ua.MessageTypeOpenFinal, make([]byte, 64))

	var buf bytes.Buffer
	buf.Write(chunk)

	_, err := f.Next(&buf)
	require.Equal(t, ua.BadTCPMessageTooLarge, err)
}

func TestFramerRejectsUndersizedHeader(t *testing.T) {
	f := NewFramer(1024)
	chunk := frameChunk(ua.MessageTypeOpenFinal, nil)
	binary.LittleEndian.PutUint32(chunk[4:8], 4)

	var buf bytes.Buffer
	buf.Write(chunk)

	_, err := f.Next(&buf)
	require.Equal(t, ua.BadTCPMessageTypeInvalid, err)
}
