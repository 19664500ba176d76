package embedding

import "fmt"

// EmbeddingError 向量化调用错误
// Code区分可重试的网络和服务端错误与不可重试的请求错误
type EmbeddingError struct {
	Code    int
	Message string
}

func (e EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error (code=%d): %s", e.Code, e.Message)
}

// 错误码
const (
	ErrCodeInvalidAPIKey  = 1001 // API密钥无效
	ErrCodeInvalidRequest = 1002 // 请求参数错误
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeRateLimited    = 1004 // 触发限流
	ErrCodeServerError    = 1005 // 服务端错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyInput     = 1007 // 输入文本为空
)

// 默认错误消息
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyInput     = "input text cannot be empty"
	ErrMsgNetworkError   = "network connection error"
)

// NewEmbeddingError 构造向量化错误
func NewEmbeddingError(code int, message string) EmbeddingError {
	return EmbeddingError{Code: code, Message: message}
}
