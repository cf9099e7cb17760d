package ua

import (
	"encoding/binary"
	"io"
	"time"
)

// BinaryEncoder encodes the UA binary protocol.
type BinaryEncoder struct {
	w  io.Writer
	bs [8]byte
}

// NewBinaryEncoder returns a new encoder that writes to an io.Writer.
func NewBinaryEncoder(w io.Writer) *BinaryEncoder {
	return &BinaryEncoder{w: w}
}

// BinaryEncodable is a message that can encode itself with the UA binary
// protocol.
type BinaryEncodable interface {
	EncodeBinary(enc *BinaryEncoder) error
}

// Encode encodes the message using the UA binary protocol.
func (enc *BinaryEncoder) Encode(v BinaryEncodable) error {
	return v.EncodeBinary(enc)
}

// WriteBoolean writes a bool.
func (enc *BinaryEncoder) WriteBoolean(value bool) error {
	if value {
		return enc.WriteByte(1)
	}
	return enc.WriteByte(0)
}

// WriteByte writes a byte.
func (enc *BinaryEncoder) WriteByte(value byte) error {
	enc.bs[0] = value
	if _, err := enc.w.Write(enc.bs[:1]); err != nil {
		return BadEncodingError
	}
	return nil
}

// WriteUInt16 writes a uint16.
func (enc *BinaryEncoder) WriteUInt16(value uint16) error {
	binary.LittleEndian.PutUint16(enc.bs[:2], value)
	if _, err := enc.w.Write(enc.bs[:2]); err != nil {
		return BadEncodingError
	}
	return nil
}

// WriteInt32 writes an int32.
func (enc *BinaryEncoder) WriteInt32(value int32) error {
	binary.LittleEndian.PutUint32(enc.bs[:4], uint32(value))
	if _, err := enc.w.Write(enc.bs[:4]); err != nil {
		return BadEncodingError
	}
	return nil
}

// WriteUInt32 writes a uint32.
func (enc *BinaryEncoder) WriteUInt32(value uint32) error {
	binary.LittleEndian.PutUint32(enc.bs[:4], value)
	if _, err := enc.w.Write(enc.bs[:4]); err != nil {
		return BadEncodingError
	}
	return nil
}

// WriteInt64 writes an int64.
func (enc *BinaryEncoder) WriteInt64(value int64) error {
	binary.LittleEndian.PutUint64(enc.bs[:8], uint64(value))
	if _, err := enc.w.Write(enc.bs[:8]); err != nil {
		return BadEncodingError
	}
	return nil
}

// WriteString writes a string, with -1 for the empty string.
func (enc *BinaryEncoder) WriteString(value string) error {
	if len(value) == 0 {
		return enc.WriteInt32(-1)
	}
	if err := enc.WriteInt32(int32(len(value))); err != nil {
		return BadEncodingError
	}
	if _, err := enc.w.Write([]byte(value)); err != nil {
		return BadEncodingError
	}
	return nil
}

// WriteDateTime writes a time.Time.
func (enc *BinaryEncoder) WriteDateTime(value time.Time) error {
	// ticks are 100 nanosecond intervals since January 1, 1601
	ticks := (value.Unix()+11644473600)*10000000 + int64(value.Nanosecond())/100
	if ticks < 0 {
		ticks = 0
	}
	if ticks >= 2650467743990000000 {
		ticks = 0x7FFFFFFFFFFFFFFF
	}
	return enc.WriteInt64(ticks)
}

// WriteByteString writes a ByteString, with -1 for the empty string.
func (enc *BinaryEncoder) WriteByteString(value ByteString) error {
	if len(value) == 0 {
		return enc.WriteInt32(-1)
	}
	if err := enc.WriteInt32(int32(len(value))); err != nil {
		return BadEncodingError
	}
	if _, err := enc.w.Write([]byte(value)); err != nil {
		return BadEncodingError
	}
	return nil
}

// WriteByteArray writes a []byte, with -1 for nil.
func (enc *BinaryEncoder) WriteByteArray(value []byte) error {
	if value == nil {
		return enc.WriteInt32(-1)
	}
	if err := enc.WriteInt32(int32(len(value))); err != nil {
		return BadEncodingError
	}
	if _, err := enc.w.Write(value); err != nil {
		return BadEncodingError
	}
	return nil
}

// WriteStatusCode writes a StatusCode.
func (enc *BinaryEncoder) WriteStatusCode(value StatusCode) error {
	return enc.WriteUInt32(uint32(value))
}

// WriteNodeID writes a numeric NodeID in its most compact form.
func (enc *BinaryEncoder) WriteNodeID(value NodeID) error {
	switch {
	case value.NamespaceIndex == 0 && value.ID <= 255:
		if err := enc.WriteByte(0x00); err != nil {
			return BadEncodingError
		}
		return enc.WriteByte(byte(value.ID))

	case value.NamespaceIndex <= 255 && value.ID <= 65535:
		if err := enc.WriteByte(0x01); err != nil {
			return BadEncodingError
		}
		if err := enc.WriteByte(byte(value.NamespaceIndex)); err != nil {
			return BadEncodingError
		}
		return enc.WriteUInt16(uint16(value.ID))

	default:
		if err := enc.WriteByte(0x02); err != nil {
			return BadEncodingError
		}
		if err := enc.WriteUInt16(value.NamespaceIndex); err != nil {
			return BadEncodingError
		}
		return enc.WriteUInt32(value.ID)
	}
}

// WriteStringArray writes a []string, with -1 for nil.
func (enc *BinaryEncoder) WriteStringArray(value []string) error {
	if value == nil {
		return enc.WriteInt32(-1)
	}
	if err := enc.WriteInt32(int32(len(value))); err != nil {
		return BadEncodingError
	}
	for _, s := range value {
		if err := enc.WriteString(s); err != nil {
			return BadEncodingError
		}
	}
	return nil
}

// WriteNullDiagnosticInfo writes an empty DiagnosticInfo.
func (enc *BinaryEncoder) WriteNullDiagnosticInfo() error {
	return enc.WriteByte(0)
}

// WriteNullExtensionObject writes an empty ExtensionObject.
func (enc *BinaryEncoder) WriteNullExtensionObject() error {
	if err := enc.WriteNodeID(NodeID{}); err != nil {
		return BadEncodingError
	}
	return enc.WriteByte(0)
}
