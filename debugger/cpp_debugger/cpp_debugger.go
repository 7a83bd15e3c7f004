package cpp_debugger

import (
	"github.com/fansqz/go-step-tracer/constants"
	"github.com/fansqz/go-step-tracer/debugger"
	"github.com/fansqz/go-step-tracer/debugger/lldb_debugger"
)

// NewCppBackend c++使用g++编译，通过codelldb调试
func NewCppBackend(option debugger.BackendOption) *debugger.Backend {
	return lldb_debugger.NewLLDBBackend(lldb_debugger.LLDBOption{
		Language: constants.LanguageCpp,
		Compiler: "g++",
	}, option)
}
