// Package daptest 提供一个按照脚本运行的debug adapter，用于测试DAP客户端与单步执行流程
package daptest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// Var 脚本中的变量
type Var struct {
	Name     string
	Value    string
	Type     string
	Children []Var
	// FailChildren 读取子变量时返回错误
	FailChildren bool
}

// Scope 脚本中的作用域
type Scope struct {
	Name string
	Vars []Var
}

// Frame 脚本中的栈帧
type Frame struct {
	Name   string
	Path   string
	Line   int
	Scopes []Scope
}

// Noise 在真正的stopped事件之前发送的、不应该被处理的stopped事件
type Noise struct {
	Reason     string
	NoThreadID bool
}

// Stop 程序的一次暂停
type Stop struct {
	// Reason 默认第一次暂停为breakpoint，之后为step
	Reason string
	Frames []Frame
	Noise  []Noise
	// FailStackTrace 本次暂停时stackTrace请求返回错误
	FailStackTrace bool
	// TerminateDuringStackTrace 收到stackTrace请求时先发送terminated事件，
	// 经过StackTraceDelay以后才响应，本次暂停之后不再发送任何事件
	TerminateDuringStackTrace bool
	StackTraceDelay           time.Duration
}

// Script 描述adapter的行为
type Script struct {
	Stops []Stop
	// VerifiedLines 可以命中的断点行，为nil时全部断点都被确认
	VerifiedLines []int
	ExitCode      int
	// NoTerminated 程序结束时只发送exited事件
	NoTerminated bool
	// Hang 最后一次暂停以后不再发送任何事件
	Hang bool
	// RunInTerminal 不为空时，launch会先发送runInTerminal反向请求，收到响应以后才响应launch
	RunInTerminal *dap.RunInTerminalRequestArguments
	// FailLaunch launch请求返回错误
	FailLaunch bool
	// NoInitialized initialize响应以后不发送initialized事件
	NoInitialized bool
	// CloseOnLaunch 收到launch请求时直接断开连接
	CloseOnLaunch bool
}

// Server 脚本化的debug adapter，只接受一个连接
type Server struct {
	script   Script
	listener net.Listener

	writeMu sync.Mutex
	writer  *bufio.Writer
	seq     int

	mu                 sync.Mutex
	breakpointRequests [][]int
	steps              []string
	launchArgs         map[string]interface{}
	terminalPid        int
	disconnected       bool

	// 以下字段只在会话协程中访问
	stopIndex     int
	refs          map[int]Var
	scopeRefs     map[int]Scope
	nextRef       int
	pendingLaunch *dap.LaunchRequest
	conn          net.Conn
	terminated    bool

	done chan struct{}
}

// NewServer 在本地随机端口上启动adapter
func NewServer(script Script) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		script:   script,
		listener: listener,
		done:     make(chan struct{}),
	}
	go s.serve()
	return s, nil
}

// Host adapter监听的地址
func (s *Server) Host() string {
	return "127.0.0.1"
}

// Port adapter监听的端口
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close 停止监听
func (s *Server) Close() error {
	return s.listener.Close()
}

// Done 会话结束以后该通道会被关闭
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// BreakpointRequests 每次setBreakpoints请求中的断点行
func (s *Server) BreakpointRequests() [][]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]int(nil), s.breakpointRequests...)
}

// Steps 收到的单步命令，按照顺序记录
func (s *Server) Steps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steps...)
}

// LaunchArguments launch请求的参数
func (s *Server) LaunchArguments() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launchArgs
}

// TerminalProcessID runInTerminal响应中的进程id
func (s *Server) TerminalProcessID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalPid
}

// Disconnected 是否收到了disconnect请求
func (s *Server) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

func (s *Server) serve() {
	defer close(s.done)
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	s.conn = conn
	s.writer = bufio.NewWriter(conn)
	reader := bufio.NewReader(conn)
	for {
		message, err := dap.ReadProtocolMessage(reader)
		if err != nil {
			if err != io.EOF {
				logrus.Debugf("[daptest] read message fail, err = %v", err)
			}
			return
		}
		s.dispatch(message)
	}
}

func (s *Server) dispatch(message dap.Message) {
	switch request := message.(type) {
	case *dap.InitializeRequest:
		s.onInitializeRequest(request)
	case *dap.LaunchRequest:
		s.onLaunchRequest(request)
	case *dap.RunInTerminalResponse:
		s.onRunInTerminalResponse(request)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDoneRequest(request)
	case *dap.StackTraceRequest:
		s.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		s.onScopesRequest(request)
	case *dap.VariablesRequest:
		s.onVariablesRequest(request)
	case *dap.StepInRequest:
		s.onStepRequest(request.Seq, request.Command)
	case *dap.StepOutRequest:
		s.onStepRequest(request.Seq, request.Command)
	case *dap.DisconnectRequest:
		s.onDisconnectRequest(request)
	case dap.RequestMessage:
		req := request.GetRequest()
		s.send(s.newErrorResponse(req.Seq, req.Command, fmt.Sprintf("%s is not yet supported", req.Command)))
	}
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *s.newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportTerminateDebuggee = true
	s.send(response)
	if !s.script.NoInitialized {
		s.send(&dap.InitializedEvent{Event: *s.newEvent("initialized")})
	}
}

func (s *Server) onLaunchRequest(request *dap.LaunchRequest) {
	args := map[string]interface{}{}
	_ = json.Unmarshal(request.Arguments, &args)
	s.mu.Lock()
	s.launchArgs = args
	s.mu.Unlock()

	if s.script.CloseOnLaunch {
		_ = s.conn.Close()
		return
	}
	if s.script.FailLaunch {
		s.send(s.newErrorResponse(request.Seq, request.Command, "launch failed"))
		return
	}
	if s.script.RunInTerminal != nil {
		s.pendingLaunch = request
		rt := &dap.RunInTerminalRequest{}
		rt.Request = dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: s.nextSeq(), Type: "request"},
			Command:         "runInTerminal",
		}
		rt.Arguments = *s.script.RunInTerminal
		s.send(rt)
		return
	}
	response := &dap.LaunchResponse{}
	response.Response = *s.newResponse(request.Seq, request.Command)
	s.send(response)
}

func (s *Server) onRunInTerminalResponse(response *dap.RunInTerminalResponse) {
	s.mu.Lock()
	s.terminalPid = response.Body.ProcessId
	s.mu.Unlock()
	if s.pendingLaunch == nil {
		return
	}
	launch := &dap.LaunchResponse{}
	launch.Response = *s.newResponse(s.pendingLaunch.Seq, s.pendingLaunch.Command)
	s.pendingLaunch = nil
	s.send(launch)
}

func (s *Server) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	lines := make([]int, 0, len(request.Arguments.Breakpoints))
	for _, b := range request.Arguments.Breakpoints {
		lines = append(lines, b.Line)
	}
	s.mu.Lock()
	s.breakpointRequests = append(s.breakpointRequests, lines)
	s.mu.Unlock()

	verified := map[int]bool{}
	for _, line := range s.script.VerifiedLines {
		verified[line] = true
	}
	response := &dap.SetBreakpointsResponse{}
	response.Response = *s.newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = make([]dap.Breakpoint, len(lines))
	for i, line := range lines {
		response.Body.Breakpoints[i].Id = i + 1
		if s.script.VerifiedLines == nil || verified[line] {
			response.Body.Breakpoints[i].Line = line
			response.Body.Breakpoints[i].Verified = true
		}
	}
	s.send(response)
}

func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *s.newResponse(request.Seq, request.Command)
	s.send(response)
	s.emitStop()
}

func (s *Server) onStackTraceRequest(request *dap.StackTraceRequest) {
	stop, ok := s.currentStop()
	if !ok || stop.FailStackTrace {
		s.send(s.newErrorResponse(request.Seq, request.Command, "no stack available"))
		return
	}
	if stop.TerminateDuringStackTrace && !s.terminated {
		s.terminated = true
		s.send(&dap.TerminatedEvent{Event: *s.newEvent("terminated")})
		time.Sleep(stop.StackTraceDelay)
	}
	frames := make([]dap.StackFrame, 0, len(stop.Frames))
	for i, f := range stop.Frames {
		frames = append(frames, dap.StackFrame{
			Id:     i + 1,
			Name:   f.Name,
			Source: &dap.Source{Name: f.Name, Path: f.Path},
			Line:   f.Line,
			Column: 1,
		})
	}
	response := &dap.StackTraceResponse{}
	response.Response = *s.newResponse(request.Seq, request.Command)
	response.Body = dap.StackTraceResponseBody{
		StackFrames: frames,
		TotalFrames: len(frames),
	}
	s.send(response)
}

func (s *Server) onScopesRequest(request *dap.ScopesRequest) {
	stop, ok := s.currentStop()
	index := request.Arguments.FrameId - 1
	if !ok || index < 0 || index >= len(stop.Frames) {
		s.send(s.newErrorResponse(request.Seq, request.Command, "unknown frame"))
		return
	}
	frame := stop.Frames[index]
	scopes := make([]dap.Scope, 0, len(frame.Scopes))
	for _, scope := range frame.Scopes {
		ref := s.allocate()
		s.scopeRefs[ref] = scope
		scopes = append(scopes, dap.Scope{Name: scope.Name, VariablesReference: ref})
	}
	response := &dap.ScopesResponse{}
	response.Response = *s.newResponse(request.Seq, request.Command)
	response.Body = dap.ScopesResponseBody{Scopes: scopes}
	s.send(response)
}

func (s *Server) onVariablesRequest(request *dap.VariablesRequest) {
	ref := request.Arguments.VariablesReference
	var vars []Var
	if scope, ok := s.scopeRefs[ref]; ok {
		vars = scope.Vars
	} else if parent, ok := s.refs[ref]; ok {
		if parent.FailChildren {
			s.send(s.newErrorResponse(request.Seq, request.Command, "cannot read children of "+parent.Name))
			return
		}
		vars = parent.Children
	} else {
		s.send(s.newErrorResponse(request.Seq, request.Command, "unknown variables reference"))
		return
	}
	variables := make([]dap.Variable, 0, len(vars))
	for _, v := range vars {
		variable := dap.Variable{Name: v.Name, Value: v.Value, Type: v.Type}
		if len(v.Children) > 0 || v.FailChildren {
			variable.VariablesReference = s.allocate()
			s.refs[variable.VariablesReference] = v
		}
		variables = append(variables, variable)
	}
	response := &dap.VariablesResponse{}
	response.Response = *s.newResponse(request.Seq, request.Command)
	response.Body = dap.VariablesResponseBody{Variables: variables}
	s.send(response)
}

func (s *Server) onStepRequest(seq int, command string) {
	s.mu.Lock()
	s.steps = append(s.steps, command)
	s.mu.Unlock()
	s.send(s.newResponse(seq, command))
	s.stopIndex++
	s.emitStop()
}

func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
	response := &dap.DisconnectResponse{}
	response.Response = *s.newResponse(request.Seq, request.Command)
	s.send(response)
}

func (s *Server) currentStop() (Stop, bool) {
	if s.stopIndex >= len(s.script.Stops) {
		return Stop{}, false
	}
	return s.script.Stops[s.stopIndex], true
}

// emitStop 发送当前暂停对应的事件，脚本结束时发送exited与terminated
func (s *Server) emitStop() {
	s.refs = map[int]Var{}
	s.scopeRefs = map[int]Scope{}
	if s.terminated {
		return
	}
	stop, ok := s.currentStop()
	if !ok {
		if s.script.Hang {
			return
		}
		exited := &dap.ExitedEvent{Event: *s.newEvent("exited")}
		exited.Body.ExitCode = s.script.ExitCode
		s.send(exited)
		if !s.script.NoTerminated {
			s.send(&dap.TerminatedEvent{Event: *s.newEvent("terminated")})
		}
		return
	}
	for _, noise := range stop.Noise {
		s.send(s.newStoppedEvent(noise.Reason, !noise.NoThreadID))
	}
	reason := stop.Reason
	if reason == "" {
		reason = "step"
		if s.stopIndex == 0 {
			reason = "breakpoint"
		}
	}
	s.send(s.newStoppedEvent(reason, true))
}

func (s *Server) allocate() int {
	s.nextRef++
	return s.nextRef
}

// stoppedEvent 手动构造body，以便发送缺少threadId的事件
type stoppedEvent struct {
	dap.Event
	Body map[string]interface{} `json:"body"`
}

func (s *Server) newStoppedEvent(reason string, withThread bool) *stoppedEvent {
	event := &stoppedEvent{
		Event: *s.newEvent("stopped"),
		Body:  map[string]interface{}{"reason": reason},
	}
	if withThread {
		event.Body["threadId"] = 1
	}
	return event
}

// send 响应与事件都通过同一个连接按顺序写出
func (s *Server) send(message dap.Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := dap.WriteProtocolMessage(s.writer, message); err != nil {
		logrus.Debugf("[daptest] write message fail, err = %v", err)
		return
	}
	_ = s.writer.Flush()
}

func (s *Server) nextSeq() int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.seq++
	return s.seq
}

func (s *Server) newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  s.nextSeq(),
			Type: "event",
		},
		Event: event,
	}
}

func (s *Server) newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  s.nextSeq(),
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func (s *Server) newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *s.newResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{Id: 12345, Format: message}
	return er
}
