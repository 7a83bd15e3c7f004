package debugger

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"

	e "github.com/fansqz/go-step-tracer/error"
	"github.com/sirupsen/logrus"
)

// AdapterServer 已经就绪的debug adapter
type AdapterServer struct {
	Host string
	Port int
	Cmd  *exec.Cmd
}

// AdapterCommand 启动debug adapter的命令
type AdapterCommand struct {
	// Name 用于日志
	Name string
	Path string
	Args []string
	Dir  string
	// Sentinel adapter输出中出现该字符串时认为已经就绪
	Sentinel string
	Host     string
	Port     int
}

// StartAdapterProcess 启动adapter进程，并等待就绪标记出现在stdout或stderr中
// 进程在返回之前就会被记录到Registry中
func StartAdapterProcess(ctx context.Context, registry *Registry, command AdapterCommand) (*AdapterServer, error) {
	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	watcher := newSentinelWriter(command.Name, command.Sentinel)
	cmd.Stdout = watcher
	cmd.Stderr = watcher

	logrus.Infof("[%s] start debug adapter on %s:%d", command.Name, command.Host, command.Port)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command.Path, err)
	}
	exited := registry.Track(command.Name, cmd)

	select {
	case <-watcher.ready:
		logrus.Debugf("[%s] debug adapter ready", command.Name)
		return &AdapterServer{Host: command.Host, Port: command.Port, Cmd: cmd}, nil
	case <-exited:
		return nil, fmt.Errorf("%s: %w", command.Name, e.ErrAdapterNotReady)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sentinelWriter 按行记录adapter的输出，并检测就绪标记
type sentinelWriter struct {
	mu       sync.Mutex
	name     string
	sentinel []byte
	tail     []byte
	line     bytes.Buffer
	ready    chan struct{}
	once     sync.Once
}

func newSentinelWriter(name string, sentinel string) *sentinelWriter {
	w := &sentinelWriter{
		name:     name,
		sentinel: []byte(sentinel),
		ready:    make(chan struct{}),
	}
	if sentinel == "" {
		w.markReady()
	}
	return w
}

func (w *sentinelWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 就绪标记可能被拆分在两次写入中
	window := make([]byte, 0, len(w.tail)+len(p))
	window = append(window, w.tail...)
	window = append(window, p...)
	if len(w.sentinel) > 0 && bytes.Contains(window, w.sentinel) {
		w.markReady()
	}
	keep := len(w.sentinel) - 1
	if keep < 0 {
		keep = 0
	}
	if len(window) > keep {
		window = window[len(window)-keep:]
	}
	w.tail = window

	w.line.Write(p)
	for {
		idx := bytes.IndexByte(w.line.Bytes(), '\n')
		if idx < 0 {
			break
		}
		logrus.Debugf("[%s] %s", w.name, bytes.TrimRight(w.line.Next(idx+1), "\r\n"))
	}
	return len(p), nil
}

func (w *sentinelWriter) markReady() {
	w.once.Do(func() {
		close(w.ready)
	})
}
