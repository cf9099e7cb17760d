package server

import (
	"github.com/djherbis/buffer"
)

// defaultBufferSize is the size of pooled transport buffers.
const defaultBufferSize = 64 * 1024

// bufferPool is a pool of partition buffers used to assemble message bodies.
var bufferPool = buffer.NewMemPoolAt(int64(defaultBufferSize))
