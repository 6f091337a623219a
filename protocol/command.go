package protocol

import "fmt"

// PacketSize 命令包固定为2字节，无帧头、无序号、无确认
const PacketSize = 2

// 字节0：连续运动位
const (
	TranslateBackward  byte = 0b00000001
	TranslateForward   byte = 0b00000010
	TranslateWithRight byte = 0b00000100
	TranslateWithLeft  byte = 0b00001000
	TurnInPlaceRight   byte = 0b00010000
	TurnInPlaceLeft    byte = 0b00100000
	CameraTurnRight    byte = 0b01000000
	CameraTurnLeft     byte = 0b10000000
)

// 字节1：离散动作位
const (
	IncrementStrideLength byte = 0b00000001
	DecrementStrideLength byte = 0b00000010
	IncrementStrideHeight byte = 0b00000100
	DecrementStrideHeight byte = 0b00001000
	IncrementIncline      byte = 0b00010000
	DecrementIncline      byte = 0b00100000
	OpenGripper           byte = 0b01000000
	CloseGripper          byte = 0b10000000
	// MoveGripper 打开+关闭两位同时置位表示切换移动模式
	MoveGripper = OpenGripper | CloseGripper
)

// Input 是持续按住的逻辑控制信号
type Input uint8

const (
	MoveForward Input = iota + 1
	MoveBackward
	StrafeLeft
	StrafeRight
	TurnLeft
	TurnRight
	CameraPanLeft
	CameraPanRight
)

// Action 是一次性触发的按钮动作，每个只被消费一次
type Action uint8

const (
	ActionOpenGripper Action = iota + 1
	ActionCloseGripper
	ActionSetMoveMode
	ActionIncStrideLength
	ActionDecStrideLength
	ActionIncStrideHeight
	ActionDecStrideHeight
	ActionIncIncline
	ActionDecIncline
)

// Inputs 返回全部合法的 Input，按定义顺序
func Inputs() []Input {
	return []Input{
		MoveForward, MoveBackward, StrafeLeft, StrafeRight,
		TurnLeft, TurnRight, CameraPanLeft, CameraPanRight,
	}
}

// Actions 返回全部合法的 Action，顺序与操作界面按钮顺序一致
func Actions() []Action {
	return []Action{
		ActionSetMoveMode, ActionOpenGripper, ActionCloseGripper,
		ActionIncStrideLength, ActionDecStrideLength,
		ActionIncStrideHeight, ActionDecStrideHeight,
		ActionIncIncline, ActionDecIncline,
	}
}

// Bit 返回 Input 在字节0中的位。未定义的值返回0。
func (i Input) Bit() byte {
	switch i {
	case MoveForward:
		return TranslateForward
	case MoveBackward:
		return TranslateBackward
	case StrafeLeft:
		return TranslateWithLeft
	case StrafeRight:
		return TranslateWithRight
	case TurnLeft:
		return TurnInPlaceLeft
	case TurnRight:
		return TurnInPlaceRight
	case CameraPanLeft:
		return CameraTurnLeft
	case CameraPanRight:
		return CameraTurnRight
	}
	return 0
}

// Valid 判断是否为已定义的 Input
func (i Input) Valid() bool {
	return i.Bit() != 0
}

func (i Input) String() string {
	switch i {
	case MoveForward:
		return "move_forward"
	case MoveBackward:
		return "move_backward"
	case StrafeLeft:
		return "strafe_left"
	case StrafeRight:
		return "strafe_right"
	case TurnLeft:
		return "turn_left"
	case TurnRight:
		return "turn_right"
	case CameraPanLeft:
		return "camera_pan_left"
	case CameraPanRight:
		return "camera_pan_right"
	}
	return fmt.Sprintf("input(%d)", uint8(i))
}

// Bit 返回 Action 在字节1中的掩码。移动模式占用两位。
func (a Action) Bit() byte {
	switch a {
	case ActionOpenGripper:
		return OpenGripper
	case ActionCloseGripper:
		return CloseGripper
	case ActionSetMoveMode:
		return MoveGripper
	case ActionIncStrideLength:
		return IncrementStrideLength
	case ActionDecStrideLength:
		return DecrementStrideLength
	case ActionIncStrideHeight:
		return IncrementStrideHeight
	case ActionDecStrideHeight:
		return DecrementStrideHeight
	case ActionIncIncline:
		return IncrementIncline
	case ActionDecIncline:
		return DecrementIncline
	}
	return 0
}

// Valid 判断是否为已定义的 Action
func (a Action) Valid() bool {
	return a.Bit() != 0
}

func (a Action) String() string {
	switch a {
	case ActionOpenGripper:
		return "open_gripper"
	case ActionCloseGripper:
		return "close_gripper"
	case ActionSetMoveMode:
		return "set_move_mode"
	case ActionIncStrideLength:
		return "inc_stride_length"
	case ActionDecStrideLength:
		return "dec_stride_length"
	case ActionIncStrideHeight:
		return "inc_stride_height"
	case ActionDecStrideHeight:
		return "dec_stride_height"
	case ActionIncIncline:
		return "inc_incline"
	case ActionDecIncline:
		return "dec_incline"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// InputForBit 由单个运动位反查 Input
func InputForBit(bit byte) (Input, bool) {
	for _, in := range Inputs() {
		if in.Bit() == bit {
			return in, true
		}
	}
	return 0, false
}

// ActionForMask 由动作掩码反查 Action，MoveGripper 对应移动模式
func ActionForMask(mask byte) (Action, bool) {
	for _, a := range Actions() {
		if a.Bit() == mask {
			return a, true
		}
	}
	return 0, false
}

// Packet 是每个控制周期发送给机器人的2字节命令
type Packet [PacketSize]byte

// Motion 返回字节0
func (p Packet) Motion() byte {
	return p[0]
}

// Buttons 返回字节1
func (p Packet) Buttons() byte {
	return p[1]
}

// Bytes 返回可直接写入套接字的切片
func (p Packet) Bytes() []byte {
	b := make([]byte, PacketSize)
	copy(b, p[:])
	return b
}

func (p Packet) String() string {
	return fmt.Sprintf("%08b %08b", p[0], p[1])
}

// ParsePacket 从原始数据报解析命令包
func ParsePacket(data []byte) (Packet, error) {
	var p Packet
	if len(data) != PacketSize {
		return p, fmt.Errorf("invalid command packet length: got %d, expected %d", len(data), PacketSize)
	}
	copy(p[:], data)
	return p, nil
}

// Decoded 是命令包按位表展开后的结果
type Decoded struct {
	Inputs  []Input
	Actions []Action
}

// Decode 将命令包展开为符号。字节1中两位同时置位时解释为移动模式，
// 而不是同时打开和关闭。
func Decode(p Packet) Decoded {
	var d Decoded
	for _, in := range Inputs() {
		if p[0]&in.Bit() != 0 {
			d.Inputs = append(d.Inputs, in)
		}
	}

	buttons := p[1]
	if buttons&MoveGripper == MoveGripper {
		d.Actions = append(d.Actions, ActionSetMoveMode)
		buttons &^= MoveGripper
	}
	for _, a := range Actions() {
		if a == ActionSetMoveMode {
			continue
		}
		if buttons&a.Bit() != 0 {
			d.Actions = append(d.Actions, a)
		}
	}
	return d
}
