// Package pool holds sync.Pool-backed byte buffers for the listener's
// read/write path, sized to the common DNS message tiers so hot-path
// packet handling doesn't allocate on every query.
package pool

import "sync"

const (
	// SmallBufferSize fits a plain UDP query or response (no EDNS0).
	SmallBufferSize = 512
	// MediumBufferSize fits an EDNS0-sized UDP response.
	MediumBufferSize = 4096
	// LargeBufferSize fits the largest TCP-framed DNS message.
	LargeBufferSize = 65535
)

var smallBufferPool = sync.Pool{New: func() interface{} { buf := make([]byte, SmallBufferSize); return &buf }}
var mediumBufferPool = sync.Pool{New: func() interface{} { buf := make([]byte, MediumBufferSize); return &buf }}
var largeBufferPool = sync.Pool{New: func() interface{} { buf := make([]byte, LargeBufferSize); return &buf }}

// GetSmallBuffer returns a 512-byte buffer.
func GetSmallBuffer() []byte {
	return (*smallBufferPool.Get().(*[]byte))[:SmallBufferSize]
}

// PutSmallBuffer returns buf to the small pool. Undersized buffers are
// dropped rather than pooled.
func PutSmallBuffer(buf []byte) {
	if cap(buf) < SmallBufferSize {
		return
	}
	buf = buf[:cap(buf)]
	smallBufferPool.Put(&buf)
}

// GetMediumBuffer returns a 4096-byte buffer.
func GetMediumBuffer() []byte {
	return (*mediumBufferPool.Get().(*[]byte))[:MediumBufferSize]
}

// PutMediumBuffer returns buf to the medium pool.
func PutMediumBuffer(buf []byte) {
	if cap(buf) < MediumBufferSize {
		return
	}
	buf = buf[:cap(buf)]
	mediumBufferPool.Put(&buf)
}

// GetLargeBuffer returns a 65535-byte buffer.
func GetLargeBuffer() []byte {
	return (*largeBufferPool.Get().(*[]byte))[:LargeBufferSize]
}

// PutLargeBuffer returns buf to the large pool.
func PutLargeBuffer(buf []byte) {
	if cap(buf) < LargeBufferSize {
		return
	}
	buf = buf[:cap(buf)]
	largeBufferPool.Put(&buf)
}

// GetBuffer picks the smallest tier that fits size.
func GetBuffer(size int) []byte {
	switch {
	case size <= SmallBufferSize:
		return GetSmallBuffer()
	case size <= MediumBufferSize:
		return GetMediumBuffer()
	default:
		return GetLargeBuffer()
	}
}

// PutBuffer returns buf to the pool matching its capacity. Buffers whose
// capacity doesn't match a tier exactly (e.g. a one-off allocation) are
// dropped rather than pooled.
func PutBuffer(buf []byte) {
	switch cap(buf) {
	case SmallBufferSize:
		PutSmallBuffer(buf)
	case MediumBufferSize:
		PutMediumBuffer(buf)
	case LargeBufferSize:
		PutLargeBuffer(buf)
	}
}
