package protocol

// MirrorConfig 是遥测镜像服务端返回给观察端的会话配置
type MirrorConfig struct {
	SessionID   string `msgpack:"session_id"`
	ServerIP    string `msgpack:"server_ip"`
	CommandPort uint16 `msgpack:"command_port"`
	ImagePort   uint16 `msgpack:"image_port"`
	FrameRate   uint32 `msgpack:"frame_rate"`
	// Frequency 建议观察端每秒拉取遥测的次数
	Frequency uint32 `msgpack:"frequency"`
}

// TelemetryRequest 是 GetTelemetry 的请求体
type TelemetryRequest struct {
	IncludeFrame bool `msgpack:"include_frame,omitempty"`
}

// TelemetryReport 是某一时刻的图像流健康状况
type TelemetryReport struct {
	Timestamp          uint64  `msgpack:"ts"`
	Sequence           uint64  `msgpack:"seq"`
	PacketLossPercent  float64 `msgpack:"loss"`
	LastFrameLatencyMs float64 `msgpack:"latency_ms"`
	Width              uint32  `msgpack:"width"`
	Height             uint32  `msgpack:"height"`
	TotalAttempts      uint64  `msgpack:"total"`
	FailedAttempts     uint64  `msgpack:"failed"`
	Frame              *Image  `msgpack:"frame,omitempty"`
}

// Image 是原始 RGB 像素帧
type Image struct {
	Width  uint32 `msgpack:"width"`
	Height uint32 `msgpack:"height"`
	Data   []byte `msgpack:"data"`
}
