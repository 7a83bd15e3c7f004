package debugger

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fansqz/go-step-tracer/constants"
	e "github.com/fansqz/go-step-tracer/error"
	"github.com/fansqz/go-step-tracer/protocol"
	"github.com/fansqz/go-step-tracer/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// LaunchGate 连接过程在发送launch以后等待的信号
type LaunchGate int

const (
	// GateLaunchResponse 等待launch响应
	GateLaunchResponse LaunchGate = iota
	// GateRunInTerminal launch响应与第一次runInTerminal请求，先到者为准
	GateRunInTerminal
	// GateInitialized launch响应与initialized事件，先到者为准
	GateInitialized
)

// Backend 一种语言的调试后端
// 不同语言之间只有编译、adapter启动、launch参数以及过滤规则不同
type Backend struct {
	Language  constants.LanguageType
	AdapterID string
	// Compile 编译源文件，返回可执行文件路径，解释型语言为nil
	Compile func(ctx context.Context, sourcePath string) (string, error)
	// StartAdapterServer 启动debug adapter并等待就绪，进程需要在返回前记录到Registry中
	StartAdapterServer func(ctx context.Context, registry *Registry) (*AdapterServer, error)
	// LaunchArguments launch请求的参数，programPath为编译产物或者源文件
	LaunchArguments func(programPath string) map[string]interface{}
	LaunchGate      LaunchGate
	// TerminalEnv runInTerminal启动的进程额外的环境变量
	TerminalEnv map[string]string
	// CanDigScope 为nil时所有作用域都读取变量
	CanDigScope func(scope dap.Scope) bool
	// CanDigVariable 为nil时所有变量都读取子变量
	CanDigVariable func(variable dap.Variable) bool
	// AfterDestroy 会话销毁以后执行，错误会被忽略
	AfterDestroy func(conn *Connection) error
}

// BackendOption 创建backend的参数
type BackendOption struct {
	// ToolsRoot vscode-lldb、vscode-php-debug等工具所在的目录，默认为工作目录
	ToolsRoot string
	// Host Port debug adapter监听的地址
	Host string
	Port int
	// Python python解释器，默认为python
	Python string
	// DebugpyPath debugpy包所在目录，为空时通过解释器查找
	DebugpyPath string
}

// WithDefaults 补全默认值
func (o BackendOption) WithDefaults() BackendOption {
	if o.ToolsRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			o.ToolsRoot = wd
		}
	}
	if o.Host == "" {
		o.Host = constants.DefaultAdapterHost
	}
	if o.Port == 0 {
		o.Port = constants.DefaultAdapterPort
	}
	if o.Python == "" {
		o.Python = "python"
	}
	return o
}

// ConnectOption 连接参数
type ConnectOption struct {
	ProgramPath string
	LogLevel    constants.LogLevel
	Registry    *Registry
	// BeforeInitialize 在initialize请求之前调用，用于提前订阅事件
	BeforeInitialize func(client *protocol.Client)
}

// Connection 已经完成launch的调试连接
type Connection struct {
	Client         *protocol.Client
	Server         *AdapterServer
	ExecutablePath string
}

// DigScope 是否需要读取作用域中的变量
func (b *Backend) DigScope(scope dap.Scope) bool {
	if b.CanDigScope == nil {
		return true
	}
	return b.CanDigScope(scope)
}

// DigVariable 是否需要读取变量的子变量
func (b *Backend) DigVariable(variable dap.Variable) bool {
	if b.CanDigVariable == nil {
		return true
	}
	return b.CanDigVariable(variable)
}

// Connect 启动adapter并完成 initialize -> 编译 -> launch
func (b *Backend) Connect(ctx context.Context, option ConnectOption) (*Connection, error) {
	if b.StartAdapterServer == nil {
		return nil, fmt.Errorf("%s backend has no adapter server", b.Language)
	}
	registry := option.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	logrus.Debugf("[%s] 1. start adapter server", b.Language)
	server, err := b.StartAdapterServer(ctx, registry)
	if err != nil {
		return nil, fmt.Errorf("start adapter server: %w", err)
	}

	logrus.Debugf("[%s] 2. connect adapter", b.Language)
	client, err := protocol.Dial(ctx, server.Host, server.Port, protocol.ClientOption{
		Name:  fmt.Sprintf("%s debug adapter client", b.Language),
		Trace: option.LogLevel != "" && option.LogLevel != constants.LogLevelOff,
	})
	if err != nil {
		return nil, err
	}
	conn := &Connection{Client: client, Server: server}
	if err = b.launch(ctx, conn, option, registry); err != nil {
		_ = client.Close()
		return conn, err
	}
	return conn, nil
}

func (b *Backend) launch(ctx context.Context, conn *Connection, option ConnectOption, registry *Registry) error {
	client := conn.Client
	// 需要在initialize之前订阅，否则可能错过initialized事件
	events, unsubscribe := client.Subscribe()
	defer unsubscribe()

	logrus.Debugf("[%s] 3. register events", b.Language)
	if option.BeforeInitialize != nil {
		option.BeforeInitialize(client)
	}

	logrus.Debugf("[%s] 4. initialize client", b.Language)
	if _, err := client.Initialize(ctx, dap.InitializeRequestArguments{
		ClientID:                     "go-step-tracer",
		AdapterID:                    b.AdapterID,
		PathFormat:                   "path",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		SupportsVariableType:         true,
		SupportsRunInTerminalRequest: true,
	}); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	programPath := option.ProgramPath
	if b.Compile != nil {
		logrus.Debugf("[%s] 5. compile %s", b.Language, option.ProgramPath)
		executable, err := b.Compile(ctx, option.ProgramPath)
		if err != nil {
			return err
		}
		conn.ExecutablePath = executable
		programPath = executable
	}

	terminalStarted := make(chan struct{})
	var terminalOnce sync.Once
	handler := NewRunInTerminalHandler(registry, b.TerminalEnv)
	client.HandleRunInTerminal(func(ctx context.Context, args dap.RunInTerminalRequestArguments) (int, error) {
		pid, err := handler(ctx, args)
		if err == nil {
			logrus.Debugf("[%s] 7. ran requested command in terminal", b.Language)
			terminalOnce.Do(func() { close(terminalStarted) })
		}
		return pid, err
	})

	logrus.Debugf("[%s] 6. launch client", b.Language)
	args := map[string]interface{}{"program": programPath}
	if b.LaunchArguments != nil {
		for k, v := range b.LaunchArguments(programPath) {
			args[k] = v
		}
	}
	launched := make(chan error, 1)
	gosync.Go(ctx, func(ctx context.Context) {
		err := client.Launch(ctx, args)
		if err != nil {
			logrus.Errorf("[%s] launch fail, err = %v", b.Language, err)
		}
		launched <- err
	})

	switch b.LaunchGate {
	case GateRunInTerminal:
		select {
		case <-terminalStarted:
			return nil
		case err := <-launched:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case GateInitialized:
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return fmt.Errorf("wait initialized: %w", e.ErrClientClosed)
				}
				if event.Type() == constants.InitializedEvent {
					logrus.Debugf("[%s] initialized", b.Language)
					return nil
				}
			case err := <-launched:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	default:
		select {
		case err := <-launched:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
