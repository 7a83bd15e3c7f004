package debugger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/fansqz/go-step-tracer/constants"
	e "github.com/fansqz/go-step-tracer/error"
	"github.com/fansqz/go-step-tracer/protocol"
	"github.com/fansqz/go-step-tracer/trace"
	"github.com/fansqz/go-step-tracer/utils"
	"github.com/fansqz/go-step-tracer/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// DisconnectTimeout 销毁时等待disconnect响应的最长时间
const DisconnectTimeout = time.Second

// Runner 驱动一次单步执行会话
// 连接adapter -> 设置断点 -> configurationDone -> 每次暂停读取快照并单步 -> 程序结束 -> 销毁
type Runner struct {
	backend  *Backend
	id       string
	registry *Registry
	status   *utils.StatusManager
	log      *logrus.Entry

	connMu sync.Mutex
	conn   *Connection

	destroyOnce sync.Once
}

func NewRunner(backend *Backend) *Runner {
	id := utils.GetUUID()
	return &Runner{
		backend:  backend,
		id:       id,
		registry: NewRegistry(),
		status:   utils.NewStatusManager(),
		log:      logrus.WithField("session", id),
	}
}

// ID 会话id
func (r *Runner) ID() string {
	return r.id
}

// Status 当前会话状态
func (r *Runner) Status() string {
	return r.status.Get()
}

// Registry 会话的资源记录
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run 执行整个会话，返回每一步的补丁
// ctx被取消时返回已经记录的补丁以及ctx的错误。无论成功与否，返回前都会销毁会话。
func (r *Runner) Run(ctx context.Context, option RunOption) (trace.Trace, error) {
	defer r.Destroy("runSteps")

	if option.MainFile == "" {
		return nil, e.ErrMainFileRequired
	}
	programPath, err := filepath.Abs(option.MainFile)
	if err != nil {
		return nil, fmt.Errorf("resolve main file: %w", err)
	}
	trackedFiles := []string{programPath}
	for _, file := range option.Files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return nil, fmt.Errorf("resolve file %s: %w", file, err)
		}
		trackedFiles = append(trackedFiles, abs)
	}
	trackedFiles = utils.Distinct(trackedFiles)

	r.log.Debugf("[Runner] 1. connect %s", programPath)
	r.status.Set(utils.Connecting)
	var events <-chan *protocol.Event
	conn, err := r.backend.Connect(ctx, ConnectOption{
		ProgramPath: programPath,
		LogLevel:    option.LogLevel,
		Registry:    r.registry,
		BeforeInitialize: func(client *protocol.Client) {
			var unsubscribe func()
			events, unsubscribe = client.Subscribe()
			r.registry.AddSubscription(unsubscribe)
		},
	})
	r.setConnection(conn)
	if err != nil {
		return nil, fmt.Errorf("connect %s debug adapter: %w", r.backend.Language, err)
	}

	r.log.Debugf("[Runner] 2. set breakpoints")
	if err = r.setBreakpoints(ctx, conn.Client, programPath); err != nil {
		return nil, err
	}
	r.status.Set(utils.BreakpointsSet)

	loop := newEventLoop(r, conn.Client, NewSnapshotBuilder(conn.Client, r.backend, utils.List2set(trackedFiles)))
	r.log.Debugf("[Runner] 3. configuration done")
	if err = conn.Client.ConfigurationDone(ctx); err != nil {
		return nil, fmt.Errorf("configurationDone: %w", err)
	}
	r.status.Set(utils.ConfigDone)

	r.log.Debugf("[Runner] 4. await steps")
	return loop.run(ctx, events, option.IdleTimeout)
}

// setBreakpoints 在主文件的每一行设置断点
// adapter只确认了一部分时，只保留确认的断点重新设置一次
func (r *Runner) setBreakpoints(ctx context.Context, client *protocol.Client, programPath string) error {
	code, err := os.ReadFile(programPath)
	if err != nil {
		return fmt.Errorf("read main file: %w", err)
	}
	lines := len(strings.Split(string(code), "\n"))
	breakpoints := make([]dap.SourceBreakpoint, lines)
	for i := range breakpoints {
		breakpoints[i].Line = i + 1
	}
	source := dap.Source{Path: programPath}
	response, err := client.SetBreakpoints(ctx, dap.SetBreakpointsArguments{Source: source, Breakpoints: breakpoints})
	if err != nil {
		return fmt.Errorf("setBreakpoints: %w", err)
	}

	verified := make([]dap.SourceBreakpoint, 0, len(response))
	for _, breakpoint := range response {
		if breakpoint.Verified && breakpoint.Line > 0 {
			verified = append(verified, dap.SourceBreakpoint{Line: breakpoint.Line})
		}
	}
	r.log.Debugf("[Runner] %d of %d breakpoints verified", len(verified), lines)
	if len(verified) == lines {
		return nil
	}
	if _, err = client.SetBreakpoints(ctx, dap.SetBreakpointsArguments{Source: source, Breakpoints: verified}); err != nil {
		return fmt.Errorf("setBreakpoints: %w", err)
	}
	return nil
}

// Destroy 释放会话的所有资源，可以并发、重复调用，只会执行一次
func (r *Runner) Destroy(origin string) {
	r.destroyOnce.Do(func() {
		r.log.Debugf("[Runner] destroy · %s", origin)
		killed := r.registry.Drain()
		r.log.Debugf("[Runner] killed %d processes", killed)

		conn := r.connection()
		if conn != nil && conn.Client != nil {
			ctx, cancel := context.WithTimeout(context.Background(), DisconnectTimeout)
			if err := conn.Client.Disconnect(ctx); err != nil {
				r.log.Debugf("[Runner] disconnect fail, err = %v", err)
			}
			cancel()
			_ = conn.Client.Close()
		}
		if r.backend.AfterDestroy != nil {
			if err := r.backend.AfterDestroy(conn); err != nil {
				r.log.Debugf("[Runner] after destroy fail, err = %v", err)
			}
		}
		r.status.Set(utils.Destroyed)
	})
}

func (r *Runner) setConnection(conn *Connection) {
	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()
}

func (r *Runner) connection() *Connection {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.conn
}

// snapshotResult 单步协程读取完快照以后交给事件循环记录
type snapshotResult struct {
	index    int
	snapshot *StepSnapshot
	err      error
}

// eventLoop 会话的事件循环，只在一个协程中运行，补丁只在这里写入
type eventLoop struct {
	runner  *Runner
	client  *protocol.Client
	builder *SnapshotBuilder
	acc     *trace.StepsAccumulator

	// pending 单步进行中时到达的暂停事件，保存线程id
	pending  *linkedlistqueue.Queue
	stepping bool
	fetching bool
	stops    int

	snapshots chan snapshotResult
	stepDone  chan struct{}
	done      chan struct{}

	// stepCtx 会话结束时取消，之后不再单步
	stepCtx    context.Context
	stepCancel context.CancelFunc
	// fetchCtx 只在外部ctx取消或者事件循环退出时取消，结束前已经开始读取的快照可以读完
	fetchCtx    context.Context
	fetchCancel context.CancelFunc

	completeOnce sync.Once
	completed    bool
	err          error
}

func newEventLoop(runner *Runner, client *protocol.Client, builder *SnapshotBuilder) *eventLoop {
	return &eventLoop{
		runner:    runner,
		client:    client,
		builder:   builder,
		acc:       trace.NewStepsAccumulator(),
		pending:   linkedlistqueue.New(),
		snapshots: make(chan snapshotResult),
		stepDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (l *eventLoop) run(ctx context.Context, events <-chan *protocol.Event, idleTimeout time.Duration) (trace.Trace, error) {
	l.stepCtx, l.stepCancel = context.WithCancel(ctx)
	l.fetchCtx, l.fetchCancel = context.WithCancel(ctx)
	defer func() {
		l.stepCancel()
		l.fetchCancel()
		close(l.done)
	}()

	idle := make(chan struct{})
	var watchdog *utils.TimeoutManager
	if idleTimeout > 0 {
		watchdog = utils.NewTimeoutManager()
		watchdog.Start(l.stepCtx, idleTimeout, func() {
			close(idle)
		})
		defer watchdog.Cancel()
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				l.complete(fmt.Errorf("event stream closed: %w", e.ErrClientClosed))
				break
			}
			if event.Type() == constants.StoppedEvent && watchdog != nil {
				watchdog.Reset()
			}
			l.handleEvent(event)
		case result := <-l.snapshots:
			l.fetching = false
			l.record(result)
		case <-l.stepDone:
			l.stepping = false
			l.startNext()
		case <-idle:
			l.runner.log.Warnf("[Runner] no debug event for %v", idleTimeout)
			l.complete(e.ErrSessionIdle)
			return l.acc.Patches(), l.err
		case <-ctx.Done():
			l.complete(ctx.Err())
			return l.acc.Patches(), l.err
		}
		// 正在读取的快照需要先记录
		if l.completed && !l.fetching {
			return l.acc.Patches(), l.err
		}
	}
}

func (l *eventLoop) handleEvent(event *protocol.Event) {
	log := l.runner.log
	switch event.Type() {
	case constants.StoppedEvent:
		log.Debugf("[Event] Stopped %s", event.Raw)
		reason := event.StoppedReason()
		threadID, ok := event.StoppedThreadID()
		if (reason != constants.BreakpointStopped && reason != constants.StepStopped) || !ok {
			return
		}
		if l.completed {
			return
		}
		if l.stepping {
			l.pending.Enqueue(threadID)
			return
		}
		l.start(threadID)
	case constants.ExitedEvent:
		code, _ := event.ExitCode()
		log.Debugf("[Event] Exited %d", code)
		if code == 0 {
			l.complete(nil)
		}
	case constants.TerminatedEvent:
		log.Debugf("[Event] Terminated - resolve steps")
		l.complete(nil)
	case constants.OutputEvent:
		if output, ok := event.Message.(*dap.OutputEvent); ok {
			log.Debugf("[Event] Output %q", output.Body.Output)
		}
	default:
		log.Debugf("[Event] %s", event.Type())
	}
}

// complete 结束会话，只有第一次调用生效
func (l *eventLoop) complete(err error) {
	l.completeOnce.Do(func() {
		l.completed = true
		l.err = err
		l.stepCancel()
		l.runner.status.Set(utils.Terminated)
	})
}

func (l *eventLoop) startNext() {
	if l.completed {
		return
	}
	value, ok := l.pending.Dequeue()
	if !ok {
		return
	}
	l.start(value.(int))
}

func (l *eventLoop) start(threadID int) {
	index := l.stops
	l.stops++
	l.stepping = true
	l.fetching = true
	l.runner.status.Set(utils.Stopped)
	stepCtx, fetchCtx := l.stepCtx, l.fetchCtx
	gosync.Go(stepCtx, func(ctx context.Context) {
		l.step(ctx, fetchCtx, index, threadID)
	})
}

// step 读取快照，交给事件循环记录以后再单步
// 当前执行位置在用户代码中时stepIn，否则stepOut回到用户代码
// 快照使用fetchCtx读取，会话结束不会打断正在读取的快照
func (l *eventLoop) step(ctx context.Context, fetchCtx context.Context, index int, threadID int) {
	defer func() {
		select {
		case l.stepDone <- struct{}{}:
		case <-l.done:
		}
	}()
	log := l.runner.log

	snapshot, topTracked, err := l.builder.Build(fetchCtx, threadID)
	select {
	case l.snapshots <- snapshotResult{index: index, snapshot: snapshot, err: err}:
	case <-l.done:
		return
	}
	if err != nil || ctx.Err() != nil {
		return
	}

	l.runner.status.Set(utils.Stepping)
	if topTracked {
		err = l.client.StepIn(ctx, threadID)
	} else {
		err = l.client.StepOut(ctx, threadID)
	}
	if err != nil {
		log.Errorf("[Runner] step %d fail, err = %v", index, err)
	}
}

func (l *eventLoop) record(result snapshotResult) {
	log := l.runner.log
	if result.err != nil {
		log.Errorf("[Runner] failed at step %d, err = %v", result.index, result.err)
		return
	}
	recorded, err := l.acc.Record(result.snapshot)
	if err != nil {
		log.Errorf("[Runner] record step %d fail, err = %v", result.index, err)
		return
	}
	if recorded {
		log.Debugf("[Runner] step %d recorded, %d frames", result.index, result.snapshot.FrameCount())
	} else {
		log.Debugf("[Runner] step %d has no frames in tracked files", result.index)
	}
}
