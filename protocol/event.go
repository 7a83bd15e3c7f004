package protocol

import (
	"encoding/json"

	"github.com/fansqz/go-step-tracer/constants"
	"github.com/google/go-dap"
)

// Event debug adapter发来的事件
// Raw 保留原始的json，用于读取go-dap类型中无法区分缺失与零值的字段
type Event struct {
	Message dap.EventMessage
	Raw     json.RawMessage
}

// Type 事件名称
func (e *Event) Type() constants.DebugEventType {
	return constants.DebugEventType(e.Message.GetEvent().Event)
}

// StoppedReason stopped事件的停止原因，其他事件返回空
func (e *Event) StoppedReason() constants.StoppedReasonType {
	stopped, ok := e.Message.(*dap.StoppedEvent)
	if !ok {
		return ""
	}
	return constants.StoppedReasonType(stopped.Body.Reason)
}

// StoppedThreadID stopped事件中的线程id
// threadId缺失或者不是整数时ok为false
func (e *Event) StoppedThreadID() (int, bool) {
	if e.Type() != constants.StoppedEvent {
		return 0, false
	}
	var probe struct {
		Body struct {
			ThreadID *int `json:"threadId"`
		} `json:"body"`
	}
	if err := json.Unmarshal(e.Raw, &probe); err != nil || probe.Body.ThreadID == nil {
		return 0, false
	}
	return *probe.Body.ThreadID, true
}

// ExitCode exited事件的退出码
func (e *Event) ExitCode() (int, bool) {
	exited, ok := e.Message.(*dap.ExitedEvent)
	if !ok {
		return 0, false
	}
	return exited.Body.ExitCode, true
}
