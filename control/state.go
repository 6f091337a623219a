package control

import (
	"sort"
	"sync"

	"github.com/transairobot/legctl/protocol"
)

// State 记录当前按住的键和自上次发送以来点击的按钮。
// 输入驱动写入，命令发送循环通过 Flush 读取，两者可以在不同 goroutine。
type State struct {
	mu      sync.Mutex
	held    map[protocol.Input]struct{}
	pending []protocol.Action
}

func NewState() *State {
	return &State{
		held: make(map[protocol.Input]struct{}),
	}
}

// Press 按下一个运动键，重复按下无副作用。非法值返回 false。
func (s *State) Press(in protocol.Input) bool {
	if !in.Valid() {
		return false
	}
	s.mu.Lock()
	s.held[in] = struct{}{}
	s.mu.Unlock()
	return true
}

// Release 松开一个运动键
func (s *State) Release(in protocol.Input) {
	s.mu.Lock()
	delete(s.held, in)
	s.mu.Unlock()
}

// Click 追加一次按钮动作，它只会出现在下一次 Flush 的命令包中
func (s *State) Click(a protocol.Action) bool {
	if !a.Valid() {
		return false
	}
	s.mu.Lock()
	s.pending = append(s.pending, a)
	s.mu.Unlock()
	return true
}

// Held 返回按住的键，按枚举值排序
func (s *State) Held() []protocol.Input {
	s.mu.Lock()
	held := make([]protocol.Input, 0, len(s.held))
	for in := range s.held {
		held = append(held, in)
	}
	s.mu.Unlock()

	sort.Slice(held, func(i, j int) bool { return held[i] < held[j] })
	return held
}

// Pending 返回尚未发送的按钮动作副本
func (s *State) Pending() []protocol.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Action(nil), s.pending...)
}

// Flush 在同一个临界区内生成命令包并清空待发送动作
func (s *State) Flush() protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	held := make([]protocol.Input, 0, len(s.held))
	for in := range s.held {
		held = append(held, in)
	}
	p := Build(held, s.pending)
	s.pending = s.pending[:0]
	return p
}

// ReleaseAll 松开所有键，保留尚未发送的按钮动作
func (s *State) ReleaseAll() {
	s.mu.Lock()
	clear(s.held)
	s.mu.Unlock()
}

// Reset 松开所有键并丢弃待发送动作
func (s *State) Reset() {
	s.mu.Lock()
	clear(s.held)
	s.pending = s.pending[:0]
	s.mu.Unlock()
}
