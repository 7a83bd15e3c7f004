package lldb_debugger

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/fansqz/go-step-tracer/constants"
	"github.com/fansqz/go-step-tracer/debugger"
	"github.com/fansqz/go-step-tracer/utils"
	"github.com/google/go-dap"
)

// AdapterSentinel codelldb就绪时输出的内容
const AdapterSentinel = "Listening on port"

// forbiddenScopes 寄存器与静态存储区不读取变量
var forbiddenScopes = utils.List2set([]constants.ScopeName{constants.ScopeRegisters, constants.ScopeStatic})

// LLDBOption c与c++共用codelldb，只有编译器与launch参数不同
type LLDBOption struct {
	Language constants.LanguageType
	// Compiler gcc 或者 g++
	Compiler        string
	LaunchArguments map[string]interface{}
}

// NewLLDBBackend 创建一个使用codelldb的backend
func NewLLDBBackend(lldbOption LLDBOption, option debugger.BackendOption) *debugger.Backend {
	option = option.WithDefaults()
	return &debugger.Backend{
		Language:  lldbOption.Language,
		AdapterID: string(lldbOption.Language),
		Compile: func(ctx context.Context, sourcePath string) (string, error) {
			return Compile(ctx, lldbOption.Compiler, sourcePath)
		},
		StartAdapterServer: func(ctx context.Context, registry *debugger.Registry) (*debugger.AdapterServer, error) {
			return debugger.StartAdapterProcess(ctx, registry, AdapterCommand(option))
		},
		LaunchArguments: func(programPath string) map[string]interface{} {
			args := make(map[string]interface{}, len(lldbOption.LaunchArguments))
			for k, v := range lldbOption.LaunchArguments {
				args[k] = v
			}
			return args
		},
		LaunchGate:  debugger.GateRunInTerminal,
		TerminalEnv: map[string]string{"RUST_BACKTRACE": "full"},
		CanDigScope: CanDigScope,
		AfterDestroy: func(conn *debugger.Connection) error {
			if conn == nil {
				return nil
			}
			return debugger.RemoveArtifact(conn.ExecutablePath)
		},
	}
}

// AdapterCommand 启动codelldb的命令
func AdapterCommand(option debugger.BackendOption) debugger.AdapterCommand {
	root := filepath.Join(option.ToolsRoot, "vscode-lldb")
	return debugger.AdapterCommand{
		Name: "LLDB",
		Path: filepath.Join(root, "adapter", "codelldb"),
		Args: []string{
			"--liblldb", filepath.Join(root, "lldb", "lib", "liblldb.so"),
			"--port", strconv.Itoa(option.Port),
		},
		Dir:      root,
		Sentinel: AdapterSentinel,
		Host:     option.Host,
		Port:     option.Port,
	}
}

// CanDigScope 寄存器与静态存储区不读取变量
func CanDigScope(scope dap.Scope) bool {
	return !forbiddenScopes.Contains(constants.ScopeName(scope.Name))
}

// Compile 编译出带调试信息的可执行文件，可执行文件与源文件同名不带后缀
func Compile(ctx context.Context, compiler string, sourcePath string) (string, error) {
	execFile := debugger.RemoveExt(sourcePath)
	if err := debugger.RunCompiler(ctx, filepath.Dir(sourcePath), compiler, "-g", sourcePath, "-o", execFile); err != nil {
		return "", err
	}
	return execFile, nil
}
