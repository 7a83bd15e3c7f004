package protocol

import (
	"context"

	"github.com/fansqz/go-step-tracer/constants"
	"github.com/google/go-dap"
)

// Initialize 发送initialize请求，返回adapter的能力
func (c *Client) Initialize(ctx context.Context, args dap.InitializeRequestArguments) (*dap.Capabilities, error) {
	message, err := c.sendRequest(ctx, "initialize", args)
	if err != nil {
		return nil, err
	}
	// 部分adapter返回的能力字段go-dap无法解析，此时按照没有能力处理
	if resp, ok := message.(*dap.InitializeResponse); ok {
		return &resp.Body, nil
	}
	return &dap.Capabilities{}, nil
}

// Launch 发送launch请求，参数由各语言的backend提供
func (c *Client) Launch(ctx context.Context, args map[string]interface{}) error {
	_, err := c.sendRequest(ctx, "launch", args)
	return err
}

// SetBreakpoints 设置一个源文件的全部断点，返回adapter确认的断点
func (c *Client) SetBreakpoints(ctx context.Context, args dap.SetBreakpointsArguments) ([]dap.Breakpoint, error) {
	message, err := c.sendRequest(ctx, "setBreakpoints", args)
	if err != nil {
		return nil, err
	}
	resp, err := expect[*dap.SetBreakpointsResponse]("setBreakpoints", message)
	if err != nil {
		return nil, err
	}
	return resp.Body.Breakpoints, nil
}

// ConfigurationDone 断点设置完成，程序开始运行
func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.sendRequest(ctx, "configurationDone", nil)
	return err
}

// StackTrace 获取线程的调用栈，第一个栈帧是当前执行的位置
func (c *Client) StackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error) {
	message, err := c.sendRequest(ctx, "stackTrace", dap.StackTraceArguments{ThreadId: threadID})
	if err != nil {
		return nil, err
	}
	resp, err := expect[*dap.StackTraceResponse]("stackTrace", message)
	if err != nil {
		return nil, err
	}
	return resp.Body.StackFrames, nil
}

// Scopes 获取栈帧的作用域
func (c *Client) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	message, err := c.sendRequest(ctx, "scopes", dap.ScopesArguments{FrameId: frameID})
	if err != nil {
		return nil, err
	}
	resp, err := expect[*dap.ScopesResponse]("scopes", message)
	if err != nil {
		return nil, err
	}
	return resp.Body.Scopes, nil
}

// Variables 获取引用下的变量
func (c *Client) Variables(ctx context.Context, reference int) ([]dap.Variable, error) {
	message, err := c.sendRequest(ctx, "variables", dap.VariablesArguments{VariablesReference: reference})
	if err != nil {
		return nil, err
	}
	resp, err := expect[*dap.VariablesResponse]("variables", message)
	if err != nil {
		return nil, err
	}
	return resp.Body.Variables, nil
}

// StepIn 指令级别的单步进入
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	_, err := c.sendRequest(ctx, string(constants.StepIn), dap.StepInArguments{
		ThreadId:    threadID,
		Granularity: dap.SteppingGranularity(constants.StepGranularity),
	})
	return err
}

// StepOut 指令级别的单步跳出
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	_, err := c.sendRequest(ctx, string(constants.StepOut), dap.StepOutArguments{
		ThreadId:    threadID,
		Granularity: dap.SteppingGranularity(constants.StepGranularity),
	})
	return err
}

// Disconnect 断开与adapter的会话并结束被调试程序
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.sendRequest(ctx, "disconnect", dap.DisconnectArguments{TerminateDebuggee: true})
	return err
}
