package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/fyerfyer/doc-classify-QA-system/api/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 错误类型常量
const (
	ErrorTypeValidation = "VALIDATION_ERROR" // 请求参数不合法
	ErrorTypeNotFound   = "NOT_FOUND_ERROR"  // 文档或任务不存在
	ErrorTypeInternal   = "INTERNAL_ERROR"   // 内部错误
	ErrorTypeBusiness   = "BUSINESS_ERROR"   // 业务规则拒绝，如不支持的文件类型
)

// AppError 带HTTP语义的应用错误
// handler把它挂到gin上下文，统一由ErrorMiddleware转成响应
type AppError struct {
	Type    string
	Message string
	Details string
	Code    int // HTTP状态码
}

func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError 请求参数错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewNotFoundError 资源不存在
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewInternalError 内部错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// NewBusinessError 业务规则错误
func NewBusinessError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeBusiness,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// ErrorMiddleware 统一错误处理
// 恢复panic，并把handler挂在上下文里的错误转成JSON错误响应
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					"error": err,
					"stack": string(debug.Stack()),
					"path":  c.Request.URL.Path,
				}).Error("Panic recovered in API request")

				errResp := model.NewErrorResponse(
					http.StatusInternalServerError,
					"An unexpected error occurred",
				)
				if gin.Mode() == gin.DebugMode {
					errResp.Message = fmt.Sprintf("Panic: %v", err)
				}
				errResp.TraceID = c.GetString(traceIDKey)

				c.AbortWithStatusJSON(http.StatusInternalServerError, errResp)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		traceID := c.GetString(traceIDKey)

		var appErr AppError
		if errors.As(err, &appErr) {
			log.WithFields(logrus.Fields{
				"error_type": appErr.Type,
				"trace_id":   traceID,
				"path":       c.Request.URL.Path,
			}).Error(appErr.Message)

			errResp := model.NewErrorResponse(appErr.Code, appErr.Message)
			errResp.TraceID = traceID
			c.JSON(appErr.Code, errResp)
			c.Abort()
			return
		}

		// 未分类的错误一律按内部错误处理
		log.WithFields(logrus.Fields{
			"trace_id": traceID,
			"path":     c.Request.URL.Path,
		}).Error(err.Error())

		errResp := model.NewErrorResponse(
			http.StatusInternalServerError,
			"Internal server error",
		)
		if gin.Mode() == gin.DebugMode {
			errResp.Message = err.Error()
		}
		errResp.TraceID = traceID

		c.JSON(http.StatusInternalServerError, errResp)
		c.Abort()
	}
}

// HandleError 把错误交给ErrorMiddleware处理
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
