package php_debugger

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fansqz/go-step-tracer/constants"
	"github.com/fansqz/go-step-tracer/debugger"
)

// AdapterSentinel vscode-php-debug就绪时输出的内容
const AdapterSentinel = "waiting for debug"

// RuntimeArgs 让xdebug在请求开始时就连接adapter
var RuntimeArgs = []string{"-dxdebug.mode=debug", "-dxdebug.start_with_request=1"}

// NewPHPBackend php不需要编译，launch完成后即可设置断点
func NewPHPBackend(option debugger.BackendOption) *debugger.Backend {
	option = option.WithDefaults()
	return &debugger.Backend{
		Language:  constants.LanguagePHP,
		AdapterID: string(constants.LanguagePHP),
		StartAdapterServer: func(ctx context.Context, registry *debugger.Registry) (*debugger.AdapterServer, error) {
			return debugger.StartAdapterProcess(ctx, registry, AdapterCommand(option))
		},
		LaunchArguments: LaunchArguments,
		LaunchGate:      debugger.GateLaunchResponse,
	}
}

// AdapterCommand node phpDebug.js --server=port
func AdapterCommand(option debugger.BackendOption) debugger.AdapterCommand {
	return debugger.AdapterCommand{
		Name:     "PHP",
		Path:     "node",
		Args:     []string{"phpDebug.js", fmt.Sprintf("--server=%d", option.Port)},
		Dir:      filepath.Join(option.ToolsRoot, "vscode-php-debug", "out"),
		Sentinel: AdapterSentinel,
		Host:     option.Host,
		Port:     option.Port,
	}
}

func LaunchArguments(programPath string) map[string]interface{} {
	runtimeArgs := make([]string, len(RuntimeArgs))
	copy(runtimeArgs, RuntimeArgs)
	return map[string]interface{}{
		"runtimeArgs": runtimeArgs,
	}
}
