package mem

import (
	"sync"
)

// BufferPool 按大小分级的字节切片池
type BufferPool interface {
	// Get 返回长度为 size 的切片，容量可能更大
	Get(size int) *[]byte
	// Put 归还切片
	Put(buffer *[]byte)
}

// DefaultMaxSize 默认池化的最大切片，与单帧上限一致
const DefaultMaxSize = 1 << 23 // 8MB

const minClassShift = 10 // 1KB

var defaultPool = NewBufferPool(DefaultMaxSize)

// DefaultBufferPool 返回进程共享的池
func DefaultBufferPool() BufferPool {
	return defaultPool
}

type bufferPool struct {
	sizes []int
	pools []*sync.Pool
}

// NewBufferPool 创建从1KB开始按2倍增长、直到 maxSize 的分级池。
// 超过 maxSize 的请求直接分配，归还时丢弃。
func NewBufferPool(maxSize int) BufferPool {
	p := &bufferPool{}
	for size := 1 << minClassShift; ; size <<= 1 {
		if size > maxSize && len(p.sizes) > 0 {
			break
		}
		size := size
		p.sizes = append(p.sizes, size)
		p.pools = append(p.pools, &sync.Pool{
			New: func() any {
				buf := make([]byte, 0, size)
				return &buf
			},
		})
		if size >= maxSize {
			break
		}
	}
	return p
}

func (p *bufferPool) Get(size int) *[]byte {
	if size <= 0 {
		return &[]byte{}
	}

	if i := p.fit(size); i >= 0 {
		buf := p.pools[i].Get().(*[]byte)
		*buf = (*buf)[:size]
		return buf
	}

	buf := make([]byte, size)
	return &buf
}

func (p *bufferPool) Put(buffer *[]byte) {
	if buffer == nil {
		return
	}

	size := cap(*buffer)
	if size < p.sizes[0] || size > p.sizes[len(p.sizes)-1] {
		return
	}

	*buffer = (*buffer)[:0]

	// 放入容量不超过 size 的最大分级，保证 Get 取出的容量足够
	for i := len(p.sizes) - 1; i >= 0; i-- {
		if size >= p.sizes[i] {
			p.pools[i].Put(buffer)
			return
		}
	}
}

func (p *bufferPool) fit(size int) int {
	for i, poolSize := range p.sizes {
		if size <= poolSize {
			return i
		}
	}
	return -1
}
