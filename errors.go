package robot

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/transairobot/legctl/mem"
)

var (
	// ErrMalformedFrame 负载不是可识别的图像
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrFrameTooLarge 负载超过 MaxFrameBytes
	ErrFrameTooLarge = errors.New("frame too large")
)

// Stage 图像流周期中出错的阶段
type Stage int

const (
	StageConnect Stage = iota + 1
	StageRequest
	StageReceive
	StageDecode
)

func (s Stage) String() string {
	switch s {
	case StageConnect:
		return "connect"
	case StageRequest:
		return "request"
	case StageReceive:
		return "receive"
	case StageDecode:
		return "decode"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// FailureKind 决定一次失败如何计数
type FailureKind int

const (
	// FailureConnection 拒绝、重置、写失败等，计入丢包
	FailureConnection FailureKind = iota + 1
	// FailureTimeout 连接或读取超时，只计入尝试
	FailureTimeout
	// FailureMalformed 负载无法解码，丢弃该帧
	FailureMalformed
)

func (k FailureKind) String() string {
	switch k {
	case FailureConnection:
		return "connection"
	case FailureTimeout:
		return "timeout"
	case FailureMalformed:
		return "malformed"
	}
	return fmt.Sprintf("failure(%d)", int(k))
}

// StreamError 是图像流一个周期内的可恢复错误，不会传播到调用方
type StreamError struct {
	Stage Stage
	Kind  FailureKind
	Err   error
}

func newStreamError(stage Stage, err error) *StreamError {
	return &StreamError{Stage: stage, Kind: classify(err), Err: err}
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func (e *StreamError) IsTimeout() bool {
	return e.Kind == FailureTimeout
}

func classify(err error) FailureKind {
	if errors.Is(err, ErrMalformedFrame) || errors.Is(err, ErrFrameTooLarge) || errors.Is(err, mem.ErrLimitExceeded) {
		return FailureMalformed
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	return FailureConnection
}
