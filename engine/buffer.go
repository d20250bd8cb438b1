package engine

import (
	"bufio"
	"io"
	"sync"
)

// DefaultBlockSize is the upload transfer block size.
const DefaultBlockSize = 8192

// BlockReaderPool reuses fixed-size buffered readers so every upload reads
// its source in blocks of the same size without a fresh allocation per file.
type BlockReaderPool struct {
	size int
	pool sync.Pool
}

// NewBlockReaderPool creates a pool of readers buffering size bytes.
// If size is <= 0, DefaultBlockSize is used.
func NewBlockReaderPool(size int) *BlockReaderPool {
	if size <= 0 {
		size = DefaultBlockSize
	}
	bp := &BlockReaderPool{size: size}
	bp.pool.New = func() any {
		return bufio.NewReaderSize(nil, size)
	}
	return bp
}

// Size returns the block size of pooled readers.
func (bp *BlockReaderPool) Size() int {
	return bp.size
}

// Get returns a pooled reader reading from r.
// The caller should defer calling Put on this reader once finished.
func (bp *BlockReaderPool) Get(r io.Reader) *bufio.Reader {
	br := bp.pool.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

// Put drops the reader's source and returns it to the pool.
func (bp *BlockReaderPool) Put(br *bufio.Reader) {
	if br != nil {
		br.Reset(nil)
		bp.pool.Put(br)
	}
}
