package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/transairobot/legctl/mem"
)

// 遥测镜像通道的消息格式：固定28字节小端序头部 + 消息体。
// 每个 QUIC 流承载一次请求/响应。

const maxBodyLength = 16 * 1024 * 1024

// HeaderSize 序列化后的头部长度
const HeaderSize = 28

const (
	// magicNumber 用于校验消息是否采用本协议
	magicNumber uint32 = 0x4c47
	// Version 当前协议版本
	Version uint32 = 1
)

const (
	MessagePack uint16 = iota + 1
	Unknown
)

const (
	GetConfig    uint16 = iota + 1 // 观察端请求会话配置
	GetTelemetry                   // 观察端请求最新遥测
)

var (
	ErrBadMagic     = errors.New("invalid magic number")
	ErrBodyTooLarge = errors.New("body length too large")
)

type Header struct {
	Magic           uint32
	Version         uint32
	BodyLength      uint64
	ServerTimestamp uint64 // ms
	ContentType     uint16
	HandleID        uint16
}

type Message struct {
	*Header
	Body []byte
}

func NewMessage() *Message {
	return &Message{
		Header: &Header{
			Magic:   magicNumber,
			Version: Version,
		},
	}
}

// NewPackMessage 以 msgpack 编码 v 作为消息体
func NewPackMessage(handleID uint16, v any) (*Message, error) {
	msg := NewMessage()
	msg.SetServerTimestamp(uint64(time.Now().UnixMilli()))
	msg.SetContentType(MessagePack)
	msg.SetHandleID(handleID)
	if v != nil {
		body, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		msg.Body = body
	}
	return msg, nil
}

func (m *Message) SetVersion(version uint32) {
	m.Version = version
}

func (m *Message) SetServerTimestamp(timestamp uint64) {
	m.ServerTimestamp = timestamp
}

func (m *Message) SetContentType(contentTyp uint16) {
	m.ContentType = contentTyp
}

func (m *Message) SetHandleID(handleID uint16) {
	m.HandleID = handleID
}

// Unpack 将 msgpack 消息体解码到 v
func (m *Message) Unpack(v any) error {
	if m.ContentType != MessagePack {
		return fmt.Errorf("unsupported content type: %d", m.ContentType)
	}
	if len(m.Body) == 0 {
		return nil
	}
	return msgpack.Unmarshal(m.Body, v)
}

// Encode 将消息编码到池化缓冲区，调用方负责 Free
func (m *Message) Encode() mem.Buffer {
	m.BodyLength = uint64(len(m.Body))

	pool := mem.DefaultBufferPool()
	buf := pool.Get(HeaderSize + len(m.Body))

	b := *buf
	binary.LittleEndian.PutUint32(b[0:4], m.Magic)
	binary.LittleEndian.PutUint32(b[4:8], m.Version)
	binary.LittleEndian.PutUint64(b[8:16], m.BodyLength)
	binary.LittleEndian.PutUint64(b[16:24], m.ServerTimestamp)
	binary.LittleEndian.PutUint16(b[24:26], m.ContentType)
	binary.LittleEndian.PutUint16(b[26:28], m.HandleID)
	copy(b[HeaderSize:], m.Body)

	return mem.NewBuffer(buf, pool)
}

// WriteTo 编码并写入 w
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	buf := m.Encode()
	defer buf.Free()

	n, err := w.Write(buf.ReadOnlyData())
	return int64(n), err
}

func (m *Message) Decode(r io.Reader) error {
	var headerBuf [HeaderSize]byte
	n, err := io.ReadFull(r, headerBuf[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("stream closed or insufficient data (%d/%d bytes): %w", n, HeaderSize, err)
		}
		return fmt.Errorf("failed to read header (%d/%d bytes): %w", n, HeaderSize, err)
	}

	if m.Header == nil {
		m.Header = &Header{}
	}
	m.Magic = binary.LittleEndian.Uint32(headerBuf[0:4])
	if m.Magic != magicNumber {
		return fmt.Errorf("%w: got 0x%x, expected 0x%x", ErrBadMagic, m.Magic, magicNumber)
	}
	m.Version = binary.LittleEndian.Uint32(headerBuf[4:8])
	m.BodyLength = binary.LittleEndian.Uint64(headerBuf[8:16])
	m.ServerTimestamp = binary.LittleEndian.Uint64(headerBuf[16:24])
	m.ContentType = binary.LittleEndian.Uint16(headerBuf[24:26])
	m.HandleID = binary.LittleEndian.Uint16(headerBuf[26:28])

	if m.BodyLength > maxBodyLength {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrBodyTooLarge, m.BodyLength, maxBodyLength)
	}

	m.Body = nil
	if m.BodyLength > 0 {
		m.Body = make([]byte, m.BodyLength)
		n, err = io.ReadFull(r, m.Body)
		if err != nil {
			return fmt.Errorf("failed to read body (%d/%d bytes): %w", n, m.BodyLength, err)
		}
	}

	return nil
}
