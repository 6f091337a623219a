package mem

import (
	"errors"
	"io"
)

// 32 KiB 是 io.Copy 使用的大小
const readAllBufSize = 32 * 1024

// ErrLimitExceeded 读取的数据超过了上限
var ErrLimitExceeded = errors.New("mem: read limit exceeded")

// BufferSlice 是按顺序拼接的一组 Buffer，通常代表一帧完整的负载
type BufferSlice []Buffer

// Len 返回所有 Buffer 长度之和
func (s BufferSlice) Len() int {
	length := 0
	for _, b := range s {
		length += b.Len()
	}
	return length
}

// Free 释放切片中的每个 Buffer
func (s BufferSlice) Free() {
	for _, b := range s {
		b.Free()
	}
}

// Materialize 把所有数据复制到一个新分配的连续切片
func (s BufferSlice) Materialize() []byte {
	l := s.Len()
	if l == 0 {
		return nil
	}
	out := make([]byte, l)
	s.CopyTo(out)
	return out
}

// CopyTo 语义同内置 copy，返回 min(s.Len(), len(dst))
func (s BufferSlice) CopyTo(dst []byte) int {
	off := 0
	for _, b := range s {
		off += copy(dst[off:], b.ReadOnlyData())
		if off == len(dst) {
			break
		}
	}
	return off
}

// NewReader 返回顺序读取 s 的 io.Reader，不转移所有权
func (s BufferSlice) NewReader() io.Reader {
	return &sliceReader{data: s}
}

type sliceReader struct {
	data BufferSlice
	idx  int // 当前 Buffer 内偏移
}

func (r *sliceReader) Read(buf []byte) (int, error) {
	n := 0
	for len(buf) > 0 && len(r.data) > 0 {
		cur := r.data[0].ReadOnlyData()
		cp := copy(buf, cur[r.idx:])
		n += cp
		r.idx += cp
		buf = buf[cp:]
		if r.idx == len(cur) {
			r.data = r.data[1:]
			r.idx = 0
		}
	}
	if n == 0 && len(r.data) == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadAll 从 r 读取直到 EOF，数据存放在 pool 的缓冲区中。
// limit > 0 时总长度超过 limit 返回 ErrLimitExceeded，已读数据全部释放。
// 其它读错误返回时，已读取的部分仍随结果返回，由调用方 Free。
func ReadAll(r io.Reader, pool BufferPool, limit int) (BufferSlice, error) {
	var result BufferSlice
	total := 0
	for {
		buf := pool.Get(readAllBufSize)
		// 实际容量可能更大，全部利用
		*buf = (*buf)[:cap(*buf)]
		used := 0
		for {
			n, err := r.Read((*buf)[used:])
			used += n
			total += n
			if limit > 0 && total > limit {
				pool.Put(buf)
				result.Free()
				return nil, ErrLimitExceeded
			}
			if err != nil {
				if used == 0 {
					pool.Put(buf)
				} else {
					*buf = (*buf)[:used]
					result = append(result, NewBuffer(buf, pool))
				}
				if err == io.EOF {
					err = nil
				}
				return result, err
			}
			if used == len(*buf) {
				result = append(result, NewBuffer(buf, pool))
				break
			}
		}
	}
}
