package errors

import (
	"errors"
	"fmt"

	"alertflow/pkg/errors/ecode"
)

// 带业务错误码的error，response层通过DecodeErr还原code和message

type codedError struct {
	code    int
	message string
	cause   error
}

func (e *codedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *codedError) Unwrap() error {
	return e.cause
}

// WithCode 创建带错误码的error
func WithCode(code int, format string, args ...interface{}) error {
	return &codedError{
		code:    code,
		message: fmt.Sprintf(format, args...),
	}
}

// Wrap 包装下层error并赋予错误码
func Wrap(err error, code int, message string) error {
	if err == nil {
		return nil
	}
	return &codedError{
		code:    code,
		message: message,
		cause:   err,
	}
}

// DecodeErr 解出错误码和提示信息；nil表示成功
func DecodeErr(err error) (int, string) {
	if err == nil {
		return ecode.Success, ecode.Text(ecode.Success)
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code, ce.message
	}
	return ecode.Unknown, err.Error()
}

// IsCode 判断error是否携带指定错误码
func IsCode(err error, code int) bool {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code == code
	}
	return false
}
