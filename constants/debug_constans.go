package constants

// DebugEventType DAP事件名称
type DebugEventType string

const (
	InitializedEvent DebugEventType = "initialized"
	OutputEvent      DebugEventType = "output"
	StoppedEvent     DebugEventType = "stopped"
	ContinuedEvent   DebugEventType = "continued"
	ExitedEvent      DebugEventType = "exited"
	TerminatedEvent  DebugEventType = "terminated"
	ThreadEvent      DebugEventType = "thread"
)

// StoppedReasonType 程序停止类型
type StoppedReasonType string

const (
	BreakpointStopped StoppedReasonType = "breakpoint"
	StepStopped       StoppedReasonType = "step"
)

// StepType 单步调试类型
type StepType string

const (
	StepIn  StepType = "stepIn"
	StepOut StepType = "stepOut"
)

// StepGranularity 单步的粒度，与原有的调试脚本保持一致，使用指令级别
const StepGranularity = "instruction"

// LocalScopePrefix 名称以Local开头的作用域被视为局部作用域，例如 Local、Locals
const LocalScopePrefix = "Local"

const (
	// LocalVariablesMaxDepth 局部作用域中变量递归读取的最大深度
	LocalVariablesMaxDepth = 3
	// OtherVariablesMaxDepth 其他作用域不读取子变量
	OtherVariablesMaxDepth = 0
)

// ScopeName 调试器返回的作用域名称
type ScopeName string

// Registers: 寄存器级别的作用域，原生语言调试时会返回，内容与用户代码无关。
// Static: 静态存储区，原生语言中数量庞大，读取代价高。
const (
	ScopeRegisters ScopeName = "Registers"
	ScopeStatic    ScopeName = "Static"
)

// VariableName 一些需要特殊处理的变量名称
type VariableName string

// python调试器会返回的伪变量
const (
	VariableSpecial  VariableName = "special variables"
	VariableBuiltins VariableName = "__builtins__"
)

// 默认的debug adapter地址
const (
	DefaultAdapterHost = "localhost"
	DefaultAdapterPort = 4711
)

// LogLevel 日志级别，与调用方脚本的LOG_LEVEL环境变量取值一致
type LogLevel string

const (
	LogLevelOff     LogLevel = "off"
	LogLevelOn      LogLevel = "on"
	LogLevelDebug   LogLevel = "debug"
	LogLevelVerbose LogLevel = "verbose"
)
