package framer

import (
	"bytes"
	"sync"
)

// Pool recycles the scratch buffers a Framer uses to copy a located message
// out of its rolling buffer, cutting allocations on the hot receive path.
type Pool struct {
	bufferPool sync.Pool
}

// PooledBuffer is a reusable buffer checked out from a Pool.
type PooledBuffer struct {
	Buffer *bytes.Buffer
	pool   *Pool
}

// NewPool creates an empty buffer pool.
func NewPool() *Pool {
	p := &Pool{}
	p.bufferPool = sync.Pool{
		New: func() interface{} {
			return &PooledBuffer{Buffer: bytes.NewBuffer(make([]byte, 0, 4096))}
		},
	}
	return p
}

// GetBuffer checks out a reset buffer.
func (p *Pool) GetBuffer() *PooledBuffer {
	pb := p.bufferPool.Get().(*PooledBuffer)
	pb.Buffer.Reset()
	pb.pool = p
	return pb
}

// PutBuffer returns a buffer to the pool.
func (p *Pool) PutBuffer(pb *PooledBuffer) {
	if pb == nil {
		return
	}
	pb.Buffer.Reset()
	p.bufferPool.Put(pb)
}

// Release returns the buffer to the pool it was checked out from.
func (pb *PooledBuffer) Release() {
	if pb.pool != nil {
		pb.pool.PutBuffer(pb)
	}
}
