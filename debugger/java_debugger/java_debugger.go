package java_debugger

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/fansqz/go-step-tracer/constants"
	"github.com/fansqz/go-step-tracer/debugger"
)

// AdapterSentinel jdb就绪时输出的内容
const AdapterSentinel = "Listening at address"

// NewJavaBackend java使用javac编译，launch响应与runInTerminal先到者为准
func NewJavaBackend(option debugger.BackendOption) *debugger.Backend {
	option = option.WithDefaults()
	return &debugger.Backend{
		Language:  constants.LanguageJava,
		AdapterID: string(constants.LanguageJava),
		Compile:   Compile,
		StartAdapterServer: func(ctx context.Context, registry *debugger.Registry) (*debugger.AdapterServer, error) {
			return debugger.StartAdapterProcess(ctx, registry, AdapterCommand(option))
		},
		LaunchGate:  debugger.GateRunInTerminal,
		TerminalEnv: map[string]string{"RUST_BACKTRACE": "full"},
		AfterDestroy: func(conn *debugger.Connection) error {
			if conn == nil {
				return nil
			}
			return debugger.RemoveArtifact(conn.ExecutablePath)
		},
	}
}

// AdapterCommand jdb -listen port
func AdapterCommand(option debugger.BackendOption) debugger.AdapterCommand {
	return debugger.AdapterCommand{
		Name:     "Java",
		Path:     "jdb",
		Args:     []string{"-listen", strconv.Itoa(option.Port)},
		Sentinel: AdapterSentinel,
		Host:     option.Host,
		Port:     option.Port,
	}
}

// Compile javac编译，产物为同名的class文件
func Compile(ctx context.Context, sourcePath string) (string, error) {
	if err := debugger.RunCompiler(ctx, filepath.Dir(sourcePath), "javac", sourcePath); err != nil {
		return "", err
	}
	return ClassFile(sourcePath), nil
}

func ClassFile(sourcePath string) string {
	return debugger.RemoveExt(sourcePath) + ".class"
}
