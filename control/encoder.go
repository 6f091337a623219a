// Package control 把按住的运动键和一次性按钮动作合成为2字节命令包。
package control

import (
	"github.com/transairobot/legctl/protocol"
)

// Build 对按住的 Input 按位或得到字节0，对待发送的 Action 按位或得到字节1。
// 相反方向同时按住时两位都会置位，冲突交给机器人固件处理。
// 非法值贡献0位。Build 不修改参数，pending 由调用方清空。
func Build(held []protocol.Input, pending []protocol.Action) protocol.Packet {
	var p protocol.Packet
	for _, in := range held {
		p[0] |= in.Bit()
	}
	for _, a := range pending {
		p[1] |= a.Bit()
	}
	return p
}
