package ua

import (
	"encoding/base64"
)

// ByteString is an opaque sequence of bytes, stored as a string so that it
// can be compared and used as a map key.
type ByteString string

// String returns ByteString as a base64-encoded string.
func (b ByteString) String() string {
	return base64.StdEncoding.EncodeToString([]byte(b))
}
