package debugger

import (
	"context"
	"os/exec"
	"sync"
	"syscall"

	"github.com/fansqz/go-step-tracer/utils/gosync"
	"github.com/sirupsen/logrus"
)

// Registry 记录一次会话中启动的进程以及事件订阅，销毁时统一释放
type Registry struct {
	mu            sync.Mutex
	processes     []*trackedProcess
	subscriptions []func()
	drained       bool
}

type trackedProcess struct {
	name     string
	cmd      *exec.Cmd
	exited   chan struct{}
	killOnce sync.Once
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Track 记录一个已经启动的进程，并在后台回收该进程
// 返回的通道在进程退出以后关闭。Registry已经释放时进程会被立即结束。
func (r *Registry) Track(name string, cmd *exec.Cmd) <-chan struct{} {
	p := &trackedProcess{
		name:   name,
		cmd:    cmd,
		exited: make(chan struct{}),
	}
	gosync.Go(context.Background(), func(ctx context.Context) {
		err := cmd.Wait()
		logrus.Debugf("[Registry] process %s(%d) exited, err = %v", name, cmd.Process.Pid, err)
		close(p.exited)
	})

	r.mu.Lock()
	drained := r.drained
	if !drained {
		r.processes = append(r.processes, p)
	}
	r.mu.Unlock()
	if drained {
		p.kill()
	}
	return p.exited
}

// AddSubscription 记录一个事件订阅的取消函数
func (r *Registry) AddSubscription(unsubscribe func()) {
	r.mu.Lock()
	drained := r.drained
	if !drained {
		r.subscriptions = append(r.subscriptions, unsubscribe)
	}
	r.mu.Unlock()
	if drained {
		unsubscribe()
	}
}

// Drain 取消所有订阅并结束所有还没有退出的进程，返回本次结束的进程数量
// 可以重复调用，每个进程最多被结束一次
func (r *Registry) Drain() int {
	r.mu.Lock()
	r.drained = true
	processes := r.processes
	subscriptions := r.subscriptions
	r.processes = nil
	r.subscriptions = nil
	r.mu.Unlock()

	for _, unsubscribe := range subscriptions {
		unsubscribe()
	}
	killed := 0
	for _, p := range processes {
		if p.kill() {
			killed++
		}
	}
	return killed
}

// Len 当前记录的进程数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processes)
}

// kill 结束进程所在的进程组，进程已经退出时不做任何操作
func (p *trackedProcess) kill() bool {
	killed := false
	p.killOnce.Do(func() {
		select {
		case <-p.exited:
			return
		default:
		}
		pid := p.cmd.Process.Pid
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			if err = p.cmd.Process.Kill(); err != nil {
				logrus.Debugf("[Registry] kill %s(%d) fail, err = %v", p.name, pid, err)
				return
			}
		}
		logrus.Debugf("[Registry] killed %s(%d)", p.name, pid)
		killed = true
	})
	return killed
}
