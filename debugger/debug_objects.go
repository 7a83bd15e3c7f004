package debugger

import (
	"time"

	"github.com/fansqz/go-step-tracer/constants"
)

// RunOption 一次单步执行的参数
type RunOption struct {
	// MainFile 主文件路径，可以是相对路径
	MainFile string
	// Files 其他需要跟踪的源文件
	Files []string
	// LogLevel 为off以外的值时打印DAP协议消息
	LogLevel constants.LogLevel
	// IdleTimeout 超过该时间没有收到stopped事件时结束会话，0表示不限制
	IdleTimeout time.Duration
}

// StepSnapshot 一次暂停时用户代码的栈帧
type StepSnapshot struct {
	StackFrames []*StackFrame `json:"stackFrames"`
}

// FrameCount 快照中的栈帧数量
func (s *StepSnapshot) FrameCount() int {
	if s == nil {
		return 0
	}
	return len(s.StackFrames)
}

// StackFrame 栈帧
type StackFrame struct {
	ID     int      `json:"id"`     // 栈帧id
	Name   string   `json:"name"`   // 函数名称
	Path   string   `json:"path"`   // 文件路径
	Line   int      `json:"line"`   // 行号
	Column int      `json:"column"` // 列号
	Scopes []*Scope `json:"scopes"`
}

// Scope 作用域
type Scope struct {
	Name               string      `json:"name"`
	PresentationHint   string      `json:"presentationHint,omitempty"`
	VariablesReference int         `json:"variablesReference"` // 作用域的引用
	Expensive          bool        `json:"expensive"`
	Variables          []*Variable `json:"variables"`
}

// Variable 变量
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
	// VariablesReference 变量引用，0表示没有子变量
	VariablesReference int         `json:"variablesReference"`
	Variables          []*Variable `json:"variables"`
}
