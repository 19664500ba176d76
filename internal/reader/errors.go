package reader

import "fmt"

// ReaderError 问答模型调用错误类型
type ReaderError struct {
	Code    int    // 错误码
	Message string // 错误消息
}

// Error 实现error接口
func (e ReaderError) Error() string {
	return fmt.Sprintf("reader error (code=%d): %s", e.Code, e.Message)
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey   = 1001 // 无效的API密钥
	ErrCodeInvalidRequest  = 1002 // 无效的请求
	ErrCodeNetworkError    = 1003 // 网络连接错误
	ErrCodeRateLimited     = 1004 // 请求频率超限
	ErrCodeServerError     = 1005 // 服务器错误
	ErrCodeTimeout         = 1006 // 请求超时
	ErrCodeEmptyQuestion   = 1007 // 问题为空
	ErrCodeEmptyContext    = 1008 // 上下文为空
	ErrCodeModelLoading    = 1009 // 模型加载中
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyQuestion  = "question cannot be empty"
	ErrMsgEmptyContext   = "context cannot be empty"
	ErrMsgNetworkError   = "network connection error"
	ErrMsgModelLoading   = "model is still loading"
)

// NewReaderError 创建新的问答错误
func NewReaderError(code int, message string) ReaderError {
	return ReaderError{
		Code:    code,
		Message: message,
	}
}

// WrapError 包装普通错误为问答错误
func WrapError(err error, code int) ReaderError {
	if err == nil {
		return ReaderError{Code: code, Message: "unknown error"}
	}

	// 如果已经是ReaderError类型，则直接返回
	if readerErr, ok := err.(ReaderError); ok {
		return readerErr
	}

	return ReaderError{
		Code:    code,
		Message: err.Error(),
	}
}
