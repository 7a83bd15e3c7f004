package debugger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	e "github.com/fansqz/go-step-tracer/error"
	"github.com/fansqz/go-step-tracer/protocol/daptest"
	"github.com/fansqz/go-step-tracer/trace"
	"github.com/fansqz/go-step-tracer/utils"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSource 在临时目录中写入一个源文件，返回绝对路径
func writeSource(t *testing.T, name string, code string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(code), 0644))
	return path
}

// newScriptedBackend 连接到按照脚本运行的adapter
func newScriptedBackend(t *testing.T, script daptest.Script) (*Backend, *daptest.Server) {
	server, err := daptest.NewServer(script)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	backend := &Backend{
		Language:  "C",
		AdapterID: "C",
		StartAdapterServer: func(ctx context.Context, registry *Registry) (*AdapterServer, error) {
			return &AdapterServer{Host: server.Host(), Port: server.Port()}, nil
		},
		LaunchGate: GateLaunchResponse,
	}
	return backend, server
}

func localsFrame(path string, line int, vars ...daptest.Var) daptest.Frame {
	return daptest.Frame{
		Name:   "main",
		Path:   path,
		Line:   line,
		Scopes: []daptest.Scope{{Name: "Locals", Vars: vars}},
	}
}

func TestRunEndToEnd(t *testing.T) {
	mainFile := writeSource(t, "main.c", "int main() {\n  int a = 1;\n  a = 2;\n  return 0;\n}")
	backend, server := newScriptedBackend(t, daptest.Script{
		Stops: []daptest.Stop{
			{Frames: []daptest.Frame{localsFrame(mainFile, 2, daptest.Var{Name: "a", Value: "1", Type: "int"})}},
			{Frames: []daptest.Frame{localsFrame(mainFile, 3, daptest.Var{Name: "a", Value: "2", Type: "int"})}},
		},
	})
	var afterDestroy int
	backend.AfterDestroy = func(conn *Connection) error {
		afterDestroy++
		return nil
	}

	runner := NewRunner(backend)
	tr, err := runner.Run(context.Background(), RunOption{MainFile: mainFile})
	require.NoError(t, err)
	require.Len(t, tr, 2)

	var first, last StepSnapshot
	require.NoError(t, trace.ReplayInto(tr, 0, &first))
	require.NoError(t, trace.ReplayInto(tr, 1, &last))
	require.Len(t, first.StackFrames, 1)
	assert.Equal(t, 2, first.StackFrames[0].Line)
	assert.Equal(t, "1", first.StackFrames[0].Scopes[0].Variables[0].Value)
	assert.Equal(t, 3, last.StackFrames[0].Line)
	assert.Equal(t, "2", last.StackFrames[0].Scopes[0].Variables[0].Value)

	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}}, server.BreakpointRequests())
	assert.Equal(t, []string{"stepIn", "stepIn"}, server.Steps())
	assert.Equal(t, mainFile, server.LaunchArguments()["program"])
	assert.True(t, server.Disconnected())
	assert.Equal(t, utils.Destroyed, runner.Status())
	assert.Equal(t, 1, afterDestroy)

	// 重复销毁不会再次执行
	runner.Destroy("test")
	assert.Equal(t, 1, afterDestroy)
}

func TestRunBreakpointConvergence(t *testing.T) {
	mainFile := writeSource(t, "main.c", "a\nb\nc\nd\ne")
	backend, server := newScriptedBackend(t, daptest.Script{VerifiedLines: []int{2, 4}})

	tr, err := NewRunner(backend).Run(context.Background(), RunOption{MainFile: mainFile})
	require.NoError(t, err)
	assert.Empty(t, tr)
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}, {2, 4}}, server.BreakpointRequests())
}

func TestRunStepDirection(t *testing.T) {
	mainFile := writeSource(t, "main.c", "int main() {}\n")
	library := "/usr/lib/libc.so.6"
	backend, server := newScriptedBackend(t, daptest.Script{
		Stops: []daptest.Stop{
			{Frames: []daptest.Frame{localsFrame(mainFile, 1)}},
			{Frames: []daptest.Frame{{Name: "printf", Path: library, Line: 10}, localsFrame(mainFile, 1)}},
			{Frames: []daptest.Frame{localsFrame(mainFile, 2)}},
		},
	})

	tr, err := NewRunner(backend).Run(context.Background(), RunOption{MainFile: mainFile})
	require.NoError(t, err)
	assert.Equal(t, []string{"stepIn", "stepOut", "stepIn"}, server.Steps())
	assert.Len(t, tr, 3)
}

func TestRunSkipsNoiseAndEmptySnapshots(t *testing.T) {
	mainFile := writeSource(t, "main.c", "int main() {}\n")
	backend, server := newScriptedBackend(t, daptest.Script{
		Stops: []daptest.Stop{
			{
				Noise:  []daptest.Noise{{Reason: "entry"}, {Reason: "breakpoint", NoThreadID: true}},
				Frames: []daptest.Frame{localsFrame(mainFile, 1)},
			},
			{Frames: []daptest.Frame{{Name: "start", Path: "/usr/lib/crt1.o", Line: 1}}},
		},
		ExitCode:     0,
		NoTerminated: true,
	})

	tr, err := NewRunner(backend).Run(context.Background(), RunOption{MainFile: mainFile})
	require.NoError(t, err)
	assert.Len(t, tr, 1)
	assert.Equal(t, []string{"stepIn", "stepOut"}, server.Steps())
}

func TestRunSnapshotFailureSkipsStep(t *testing.T) {
	mainFile := writeSource(t, "main.c", "int main() {}\n")
	backend, server := newScriptedBackend(t, daptest.Script{
		Stops: []daptest.Stop{{FailStackTrace: true}},
		Hang:  true,
	})

	tr, err := NewRunner(backend).Run(context.Background(), RunOption{MainFile: mainFile, IdleTimeout: 200 * time.Millisecond})
	assert.True(t, errors.Is(err, e.ErrSessionIdle))
	assert.Empty(t, tr)
	assert.Empty(t, server.Steps())
}

func TestRunIdleTimeout(t *testing.T) {
	mainFile := writeSource(t, "main.c", "int main() {}\n")
	backend, _ := newScriptedBackend(t, daptest.Script{
		Stops: []daptest.Stop{{Frames: []daptest.Frame{localsFrame(mainFile, 1)}}},
		Hang:  true,
	})

	runner := NewRunner(backend)
	tr, err := runner.Run(context.Background(), RunOption{MainFile: mainFile, IdleTimeout: 200 * time.Millisecond})
	assert.True(t, errors.Is(err, e.ErrSessionIdle))
	assert.Len(t, tr, 1)
	assert.Equal(t, utils.Destroyed, runner.Status())
}

func TestRunContextCancel(t *testing.T) {
	mainFile := writeSource(t, "main.c", "int main() {}\n")
	backend, _ := newScriptedBackend(t, daptest.Script{
		Stops: []daptest.Stop{{Frames: []daptest.Frame{localsFrame(mainFile, 1)}}},
		Hang:  true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	tr, err := NewRunner(backend).Run(ctx, RunOption{MainFile: mainFile})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Len(t, tr, 1)
}

func TestRunNonZeroExitWaitsForTerminated(t *testing.T) {
	mainFile := writeSource(t, "main.c", "int main() {}\n")
	backend, _ := newScriptedBackend(t, daptest.Script{
		Stops:    []daptest.Stop{{Frames: []daptest.Frame{localsFrame(mainFile, 1)}}},
		ExitCode: 3,
	})

	tr, err := NewRunner(backend).Run(context.Background(), RunOption{MainFile: mainFile})
	require.NoError(t, err)
	assert.Len(t, tr, 1)
}

func TestRunTracksExtraFiles(t *testing.T) {
	mainFile := writeSource(t, "main.c", "int main() {}\n")
	helper := writeSource(t, "helper.c", "int helper() {}\n")
	backend, server := newScriptedBackend(t, daptest.Script{
		Stops: []daptest.Stop{
			{Frames: []daptest.Frame{localsFrame(helper, 1), localsFrame(mainFile, 1)}},
		},
	})

	tr, err := NewRunner(backend).Run(context.Background(), RunOption{MainFile: mainFile, Files: []string{helper}})
	require.NoError(t, err)
	require.Len(t, tr, 1)
	var snapshot StepSnapshot
	require.NoError(t, trace.ReplayInto(tr, 0, &snapshot))
	require.Len(t, snapshot.StackFrames, 2)
	assert.Equal(t, helper, snapshot.StackFrames[0].Path)
	assert.Equal(t, []string{"stepIn"}, server.Steps())
}

func TestRunLaunchFailure(t *testing.T) {
	mainFile := writeSource(t, "main.c", "int main() {}\n")
	backend, _ := newScriptedBackend(t, daptest.Script{FailLaunch: true})

	runner := NewRunner(backend)
	_, err := runner.Run(context.Background(), RunOption{MainFile: mainFile})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launch failed")
	assert.Equal(t, utils.Destroyed, runner.Status())
}

func TestRunRunInTerminalGate(t *testing.T) {
	mainFile := writeSource(t, "main.c", "int main() {}\n")
	backend, server := newScriptedBackend(t, daptest.Script{
		RunInTerminal: &dap.RunInTerminalRequestArguments{Args: []string{"sleep", "30"}, Cwd: filepath.Dir(mainFile)},
	})
	backend.LaunchGate = GateRunInTerminal
	backend.LaunchArguments = func(programPath string) map[string]interface{} {
		return map[string]interface{}{"initCommands": []string{"settings set target.disable-aslr false"}}
	}

	runner := NewRunner(backend)
	_, err := runner.Run(context.Background(), RunOption{MainFile: mainFile})
	require.NoError(t, err)
	assert.Positive(t, server.TerminalProcessID())
	assert.Equal(t, []interface{}{"settings set target.disable-aslr false"}, server.LaunchArguments()["initCommands"])
	assert.Zero(t, runner.Registry().Len())
}

func TestRunMainFileRequired(t *testing.T) {
	_, err := NewRunner(&Backend{}).Run(context.Background(), RunOption{})
	assert.True(t, errors.Is(err, e.ErrMainFileRequired))
}

func TestDestroyConcurrent(t *testing.T) {
	runner := NewRunner(&Backend{})
	const n = 3
	exits := make([]<-chan struct{}, n)
	for i := 0; i < n; i++ {
		exits[i] = runner.Registry().Track("sleep", startSleep(t))
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Destroy("test")
		}()
	}
	wg.Wait()
	for _, exited := range exits {
		waitExited(t, exited)
	}
	assert.Equal(t, utils.Destroyed, runner.Status())
	assert.Zero(t, runner.Registry().Drain())
}

func TestRunTerminatedDuringSnapshotFetch(t *testing.T) {
	mainFile := writeSource(t, "main.c", "int main() {\n  int a = 1;\n}")
	backend, server := newScriptedBackend(t, daptest.Script{
		Stops: []daptest.Stop{{
			Frames:                    []daptest.Frame{localsFrame(mainFile, 2, daptest.Var{Name: "a", Value: "1", Type: "int"})},
			TerminateDuringStackTrace: true,
			StackTraceDelay:           100 * time.Millisecond,
		}},
	})

	tr, err := NewRunner(backend).Run(context.Background(), RunOption{MainFile: mainFile})
	require.NoError(t, err)
	require.Len(t, tr, 1)
	var snapshot StepSnapshot
	require.NoError(t, trace.ReplayInto(tr, 0, &snapshot))
	require.Len(t, snapshot.StackFrames, 1)
	assert.Equal(t, "1", snapshot.StackFrames[0].Scopes[0].Variables[0].Value)
	// 会话已经结束，不会再单步
	assert.Empty(t, server.Steps())
}

func TestConnectAdapterClosedBeforeInitialized(t *testing.T) {
	mainFile := writeSource(t, "main.py", "print(1)\n")
	backend, _ := newScriptedBackend(t, daptest.Script{NoInitialized: true, CloseOnLaunch: true})
	backend.LaunchGate = GateInitialized

	runner := NewRunner(backend)
	_, err := runner.Run(context.Background(), RunOption{MainFile: mainFile})
	require.Error(t, err)
	assert.True(t, errors.Is(err, e.ErrClientClosed))
	assert.Equal(t, utils.Destroyed, runner.Status())
}
