package util

import "sync"

// bufPool holds DefaultBufSize copy buffers shared by every tunnel and
// relay-client stream.
var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, DefaultBufSize)
		return &b
	},
}

// GetBuf borrows a copy buffer.  Return it with PutBuf.
func GetBuf() *[]byte { return bufPool.Get().(*[]byte) }

// PutBuf returns buf to the pool.  Buffers shrunk below DefaultBufSize
// are dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || cap(*buf) < DefaultBufSize {
		return
	}
	*buf = (*buf)[:DefaultBufSize]
	bufPool.Put(buf)
}
