// Package sim 模拟机器人端的命令接收和图像服务，用于测试和离线调试遥控客户端。
package sim

import (
	"fmt"

	"github.com/transairobot/legctl/protocol"
)

type Gripper int

const (
	GripperNone Gripper = iota
	GripperOpen
	GripperClose
)

func (g Gripper) String() string {
	switch g {
	case GripperOpen:
		return "open"
	case GripperClose:
		return "close"
	}
	return "none"
}

type Direction int

const (
	DirectionNone Direction = iota
	DirectionForward
	DirectionBackward
)

func (d Direction) String() string {
	switch d {
	case DirectionForward:
		return "forward"
	case DirectionBackward:
		return "backward"
	}
	return "none"
}

// Command 是固件对一个命令包的解释结果。步态参数调整为 +1、-1 或 0。
type Command struct {
	Gripper      Gripper
	Direction    Direction
	StrideHeight int
	StrideLength int
	Incline      int
}

func (c Command) String() string {
	return fmt.Sprintf("gripper=%s dir=%s height=%+d length=%+d incline=%+d",
		c.Gripper, c.Direction, c.StrideHeight, c.StrideLength, c.Incline)
}

func hasCommand(b, mask byte) bool {
	return b&mask == mask
}

// Interpret 按机器人固件的优先级解释命令包：
// 夹爪位优先且打开先于关闭，命中夹爪时忽略其余位；
// 前进先于后退；每个步态参数增加先于减少。
// 固件没有单独处理移动模式，0xC0 会命中打开。
func Interpret(p protocol.Packet) Command {
	var c Command
	switch {
	case hasCommand(p[1], protocol.OpenGripper):
		c.Gripper = GripperOpen
		return c
	case hasCommand(p[1], protocol.CloseGripper):
		c.Gripper = GripperClose
		return c
	}

	switch {
	case hasCommand(p[0], protocol.TranslateForward):
		c.Direction = DirectionForward
	case hasCommand(p[0], protocol.TranslateBackward):
		c.Direction = DirectionBackward
	}

	c.StrideHeight = adjust(p[1], protocol.IncrementStrideHeight, protocol.DecrementStrideHeight)
	c.StrideLength = adjust(p[1], protocol.IncrementStrideLength, protocol.DecrementStrideLength)
	c.Incline = adjust(p[1], protocol.IncrementIncline, protocol.DecrementIncline)
	return c
}

func adjust(b, inc, dec byte) int {
	switch {
	case hasCommand(b, inc):
		return 1
	case hasCommand(b, dec):
		return -1
	}
	return 0
}
