package python_debugger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fansqz/go-step-tracer/constants"
	"github.com/fansqz/go-step-tracer/debugger"
	"github.com/fansqz/go-step-tracer/utils"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// AdapterSentinel debugpy adapter就绪时输出的内容
const AdapterSentinel = "Listening for incoming Client connections"

// findDebugpyScript 打印debugpy包所在目录
const findDebugpyScript = "import debugpy,os;print(os.path.dirname(debugpy.__file__))"

// undiggableVariables debugpy返回的伪变量，不读取子变量
var undiggableVariables = utils.List2set([]constants.VariableName{constants.VariableSpecial, constants.VariableBuiltins})

// NewPythonBackend python不需要编译，launch响应与initialized事件先到者为准
func NewPythonBackend(option debugger.BackendOption) *debugger.Backend {
	option = option.WithDefaults()
	return &debugger.Backend{
		Language:  constants.LanguagePython,
		AdapterID: string(constants.LanguagePython),
		StartAdapterServer: func(ctx context.Context, registry *debugger.Registry) (*debugger.AdapterServer, error) {
			debugpyPath := option.DebugpyPath
			if debugpyPath == "" {
				var err error
				if debugpyPath, err = FindDebugpy(ctx, option.Python); err != nil {
					return nil, err
				}
			}
			return debugger.StartAdapterProcess(ctx, registry, AdapterCommand(option, debugpyPath))
		},
		LaunchArguments: LaunchArguments,
		LaunchGate:      debugger.GateInitialized,
		CanDigVariable:  CanDigVariable,
	}
}

// AdapterCommand python <debugpy>/adapter --host host --port port --log-stderr
func AdapterCommand(option debugger.BackendOption, debugpyPath string) debugger.AdapterCommand {
	return debugger.AdapterCommand{
		Name: "Python",
		Path: option.Python,
		Args: []string{
			filepath.Join(debugpyPath, "adapter"),
			"--host", option.Host,
			"--port", strconv.Itoa(option.Port),
			"--log-stderr",
		},
		Sentinel: AdapterSentinel,
		Host:     option.Host,
		Port:     option.Port,
	}
}

func LaunchArguments(programPath string) map[string]interface{} {
	return map[string]interface{}{
		"justMyCode": true,
	}
}

// CanDigVariable 伪变量不读取子变量
func CanDigVariable(variable dap.Variable) bool {
	return !undiggableVariables.Contains(constants.VariableName(variable.Name))
}

// FindDebugpy 通过解释器找到debugpy包所在的目录
func FindDebugpy(ctx context.Context, python string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, python, "-c", findDebugpyScript)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logrus.Errorf("[Python] find debugpy fail, stderr = %s", stderr.String())
		return "", fmt.Errorf("debugpy not found: %w", err)
	}
	path := strings.TrimSpace(stdout.String())
	if path == "" {
		return "", errors.New("debugpy not found")
	}
	return path, nil
}
