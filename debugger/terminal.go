package debugger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/creack/pty"
	"github.com/fansqz/go-step-tracer/protocol"
	"github.com/fansqz/go-step-tracer/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// NewRunInTerminalHandler 处理adapter的runInTerminal反向请求
// 在虚拟终端中启动请求的命令，进程记录到Registry中，输出写入日志
func NewRunInTerminalHandler(registry *Registry, extraEnv map[string]string) protocol.RunInTerminalHandler {
	return func(ctx context.Context, args dap.RunInTerminalRequestArguments) (int, error) {
		if len(args.Args) == 0 {
			return 0, errors.New("runInTerminal: empty command")
		}
		env, err := terminalEnv(os.Environ(), args.Env, extraEnv)
		if err != nil {
			return 0, err
		}
		cmd := exec.Command(args.Args[0], args.Args[1:]...)
		cmd.Dir = args.Cwd
		cmd.Env = env

		logrus.Debugf("[Terminal] run %v in %s", args.Args, args.Cwd)
		ptm, err := pty.Start(cmd)
		if err != nil {
			return 0, fmt.Errorf("runInTerminal: start %s: %w", args.Args[0], err)
		}
		if _, err = term.MakeRaw(int(ptm.Fd())); err != nil {
			logrus.Warnf("[Terminal] make raw fail, err = %v", err)
		}
		registry.Track(args.Args[0], cmd)
		gosync.Go(context.Background(), func(ctx context.Context) {
			streamTerminalOutput(ptm)
		})
		return cmd.Process.Pid, nil
	}
}

// streamTerminalOutput 按行读取被调试程序的输出，进程退出后关闭终端
func streamTerminalOutput(ptm *os.File) {
	defer ptm.Close()
	scanner := bufio.NewScanner(ptm)
	for scanner.Scan() {
		logrus.Infof("[Terminal] %s", strings.TrimRight(scanner.Text(), "\r"))
	}
}

// terminalEnv 请求中的环境变量覆盖当前进程的环境变量，值为null表示删除该变量
// backend指定的环境变量优先级最高
func terminalEnv(base []string, requested interface{}, extra map[string]string) ([]string, error) {
	values := map[string]string{}
	for _, kv := range base {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			values[kv[:idx]] = kv[idx+1:]
		}
	}
	if requested != nil {
		data, err := json.Marshal(requested)
		if err != nil {
			return nil, fmt.Errorf("runInTerminal: invalid env: %w", err)
		}
		overrides := map[string]*string{}
		if err = json.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("runInTerminal: invalid env: %w", err)
		}
		for k, v := range overrides {
			if v == nil {
				delete(values, k)
				continue
			}
			values[k] = *v
		}
	}
	for k, v := range extra {
		values[k] = v
	}
	env := make([]string, 0, len(values))
	for k, v := range values {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env, nil
}
