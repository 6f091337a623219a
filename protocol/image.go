package protocol

// 图像通道：每个TCP连接只传输一帧。客户端发送5字节请求，服务端写入完整的
// 编码图像后关闭写端，EOF 即帧结束，没有长度前缀。
const (
	// RequestSize 请求令牌长度
	RequestSize = 5
	// MaxRequestSize 服务端单次读取请求的缓冲长度
	MaxRequestSize = 6
)

const (
	RequestFrame    byte = 'I'
	RequestShutdown byte = 'E'
)

var (
	// FrameRequest 请求下一帧
	FrameRequest = []byte("I0000")
	// ShutdownRequest 请求图像服务端退出
	ShutdownRequest = []byte("E0000")
)

// 默认端口
const (
	CommandPort = 8080
	ImagePort   = 8090
)
