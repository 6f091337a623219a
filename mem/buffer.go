package mem

import (
	"sync"
	"sync/atomic"
)

var (
	// 小于该阈值的数据直接使用普通切片，不走池
	bufferPoolingThreshold = 1 << 10

	bufferObjectPool = sync.Pool{New: func() any { return new(buffer) }}
	refObjectPool    = sync.Pool{New: func() any { return new(atomic.Int32) }}
)

// Buffer 是带引用计数的字节块。图像帧在接收时由多个 Buffer 组成，
// 解码完成后统一 Free 归还到池中。
type Buffer interface {
	// ReadOnlyData 返回底层字节切片，调用方不得修改
	ReadOnlyData() []byte
	// Ref 增加引用计数
	Ref()
	// Free 减少引用计数，归零时把底层切片还给池
	Free()
	// Len 返回有效数据长度
	Len() int
}

// NewBuffer 包装从 pool 取得的切片，引用计数初始为1。
// pool 为 nil 且容量很小时直接返回 SliceBuffer。
func NewBuffer(data *[]byte, pool BufferPool) Buffer {
	if pool == nil && IsLessBufferPoolThreshold(cap(*data)) {
		return SliceBuffer(*data)
	}

	b := bufferObjectPool.Get().(*buffer)
	b.origin = data
	b.data = *data
	b.pool = pool
	b.refs = refObjectPool.Get().(*atomic.Int32)
	b.refs.Add(1)
	return b
}

type buffer struct {
	origin *[]byte
	data   []byte
	refs   *atomic.Int32
	pool   BufferPool
}

func (b *buffer) ReadOnlyData() []byte {
	if b.refs == nil {
		panic("无法读取已释放的缓冲区")
	}
	return b.data
}

func (b *buffer) Ref() {
	if b.refs == nil {
		panic("无法引用已释放的缓冲区")
	}
	b.refs.Add(1)
}

func (b *buffer) Free() {
	if b.refs == nil {
		panic("无法释放已释放的缓冲区")
	}

	refs := b.refs.Add(-1)
	switch {
	case refs > 0:
		return
	case refs == 0:
		if b.pool != nil {
			b.pool.Put(b.origin)
		}

		refObjectPool.Put(b.refs)
		b.origin = nil
		b.data = nil
		b.refs = nil
		b.pool = nil
		bufferObjectPool.Put(b)
	default:
		panic("无法释放已释放的缓冲区")
	}
}

func (b *buffer) Len() int {
	return len(b.ReadOnlyData())
}

// IsLessBufferPoolThreshold 判断 size 是否小到不值得池化
func IsLessBufferPoolThreshold(size int) bool {
	return size <= bufferPoolingThreshold
}

// SliceBuffer 是不参与池化的 Buffer，Ref/Free 为空操作
type SliceBuffer []byte

func (s SliceBuffer) ReadOnlyData() []byte { return s }
func (s SliceBuffer) Ref()                 {}
func (s SliceBuffer) Free()                {}
func (s SliceBuffer) Len() int             { return len(s) }
