package protocol

import (
	"fmt"

	"github.com/google/go-dap"
)

// ResponseError adapter返回success=false的响应
type ResponseError struct {
	Command string
	Message string
}

func (r *ResponseError) Error() string {
	return fmt.Sprintf("%s request failed: %s", r.Command, r.Message)
}

// checkResponse 检查响应是否成功，失败时优先使用错误体中的描述
func checkResponse(command string, message dap.ResponseMessage) error {
	resp := message.GetResponse()
	if resp.Success {
		return nil
	}
	detail := resp.Message
	if er, ok := message.(*dap.ErrorResponse); ok && er.Body.Error != nil && er.Body.Error.Format != "" {
		detail = er.Body.Error.Format
	}
	return &ResponseError{Command: command, Message: detail}
}

// expect 将响应转换成具体的类型
func expect[T dap.ResponseMessage](command string, message dap.ResponseMessage) (T, error) {
	resp, ok := message.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: unexpected response %T", command, message)
	}
	return resp, nil
}
