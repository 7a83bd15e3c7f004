package c_debugger

import (
	"github.com/fansqz/go-step-tracer/constants"
	"github.com/fansqz/go-step-tracer/debugger"
	"github.com/fansqz/go-step-tracer/debugger/lldb_debugger"
)

// DisableASLRCommand 关闭地址随机化的设置
const DisableASLRCommand = "settings set target.disable-aslr false"

// NewCBackend c语言使用gcc编译，通过codelldb调试
func NewCBackend(option debugger.BackendOption) *debugger.Backend {
	return lldb_debugger.NewLLDBBackend(lldb_debugger.LLDBOption{
		Language: constants.LanguageC,
		Compiler: "gcc",
		LaunchArguments: map[string]interface{}{
			"initCommands": []string{DisableASLRCommand},
		},
	}, option)
}
