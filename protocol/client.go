package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	e "github.com/fansqz/go-step-tracer/error"
	"github.com/fansqz/go-step-tracer/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// ClientOption 创建客户端的参数
type ClientOption struct {
	// Name 客户端名称，只用于日志
	Name string
	// Trace 是否打印所有收发的DAP消息
	Trace bool
}

// RunInTerminalHandler 处理debug adapter发来的runInTerminal反向请求，返回启动的进程id
type RunInTerminalHandler func(ctx context.Context, args dap.RunInTerminalRequestArguments) (int, error)

// Client 通过socket与debug adapter通信的DAP客户端
// 请求与响应通过seq关联，事件按照到达顺序投递给所有订阅者
type Client struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	option ClientOption

	writeMu sync.Mutex
	seq     int64

	pendingMu sync.Mutex
	pending   map[int]chan result

	subsMu      sync.Mutex
	subscribers map[int]*gosync.Mailbox[*Event]
	nextSubID   int

	handlerMu     sync.RWMutex
	runInTerminal RunInTerminalHandler

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.RWMutex
	err       error
}

type result struct {
	message dap.ResponseMessage
	err     error
}

// request 发送给adapter的请求，arguments使用各请求自己的参数类型
type request struct {
	dap.Request
	Arguments interface{} `json:"arguments,omitempty"`
}

// Dial 连接debug adapter
func Dial(ctx context.Context, host string, port int, option ClientOption) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dial debug adapter %s:%d: %w", host, port, err)
	}
	return NewClient(conn, option), nil
}

// NewClient 使用已经建立的连接创建客户端，并启动读协程
func NewClient(conn io.ReadWriteCloser, option ClientOption) *Client {
	c := &Client{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		option:      option,
		pending:     make(map[int]chan result),
		subscribers: make(map[int]*gosync.Mailbox[*Event]),
		done:        make(chan struct{}),
	}
	gosync.Go(context.Background(), func(ctx context.Context) {
		c.receiveLoop()
	})
	return c
}

// Subscribe 订阅adapter的事件，返回的通道会按照到达顺序收到事件
// 客户端关闭时已经到达的事件仍会投递，之后通道被关闭；取消订阅会立即关闭通道
func (c *Client) Subscribe() (<-chan *Event, func()) {
	box := gosync.NewMailbox[*Event]()
	c.subsMu.Lock()
	if c.isClosed() {
		c.subsMu.Unlock()
		box.Close()
		return box.C(), func() {}
	}
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = box
	c.subsMu.Unlock()

	var once sync.Once
	return box.C(), func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subscribers, id)
			c.subsMu.Unlock()
			box.Stop()
		})
	}
}

// HandleRunInTerminal 设置runInTerminal反向请求的处理函数
func (c *Client) HandleRunInTerminal(handler RunInTerminalHandler) {
	c.handlerMu.Lock()
	c.runInTerminal = handler
	c.handlerMu.Unlock()
}

// Done 客户端关闭以后该通道会被关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err 返回读协程遇到的错误
func (c *Client) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// Close 关闭连接，所有等待中的请求都会返回ErrClientClosed，可以重复调用
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
		c.failPending(e.ErrClientClosed)
		c.closeSubscribers()
	})
	return err
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// receiveLoop 循环读取adapter发来的消息
func (c *Client) receiveLoop() {
	for {
		content, err := dap.ReadBaseMessage(c.reader)
		if err != nil {
			if !c.isClosed() {
				if err != io.EOF {
					logrus.Warnf("[Client] %s read message fail, err = %v", c.option.Name, err)
				}
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
			}
			_ = c.Close()
			return
		}
		c.handleMessage(content)
	}
}

func (c *Client) handleMessage(content []byte) {
	if c.option.Trace {
		logrus.Tracef("[Client] %s <- %s", c.option.Name, content)
	}
	message, err := dap.DecodeProtocolMessage(content)
	if err != nil {
		c.handleUndecodable(content, err)
		return
	}
	switch m := message.(type) {
	case dap.ResponseMessage:
		c.resolve(m.GetResponse().RequestSeq, result{message: m})
	case dap.EventMessage:
		c.publish(&Event{Message: m, Raw: content})
	case *dap.RunInTerminalRequest:
		gosync.Go(context.Background(), func(ctx context.Context) {
			c.serveRunInTerminal(ctx, m)
		})
	case dap.RequestMessage:
		req := m.GetRequest()
		logrus.Warnf("[Client] %s reverse request %s is not supported", c.option.Name, req.Command)
		c.sendErrorResponse(req.Seq, req.Command, fmt.Sprintf("%s is not supported", req.Command))
	}
}

// handleUndecodable go-dap无法解析的消息，例如adapter自定义的事件
// 如果是响应，仍然需要唤醒等待中的请求
func (c *Client) handleUndecodable(content []byte, decodeErr error) {
	var base struct {
		Type       string `json:"type"`
		RequestSeq int    `json:"request_seq"`
		Event      string `json:"event"`
	}
	if err := json.Unmarshal(content, &base); err != nil {
		logrus.Warnf("[Client] %s parse message fail, err = %v", c.option.Name, err)
		return
	}
	switch base.Type {
	case "response":
		resp := &dap.Response{}
		if err := json.Unmarshal(content, resp); err != nil {
			c.resolve(base.RequestSeq, result{err: fmt.Errorf("decode response: %w", err)})
			return
		}
		c.resolve(base.RequestSeq, result{message: resp})
	case "event":
		logrus.Debugf("[Client] %s skip event %s, err = %v", c.option.Name, base.Event, decodeErr)
	default:
		logrus.Debugf("[Client] %s skip message, err = %v", c.option.Name, decodeErr)
	}
}

func (c *Client) resolve(requestSeq int, r result) {
	c.pendingMu.Lock()
	ch, ok := c.pending[requestSeq]
	if ok {
		delete(c.pending, requestSeq)
	}
	c.pendingMu.Unlock()
	if !ok {
		logrus.Debugf("[Client] %s response for unknown request %d", c.option.Name, requestSeq)
		return
	}
	ch <- r
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int]chan result)
	c.pendingMu.Unlock()
	for _, ch := range pending {
		ch <- result{err: err}
	}
}

func (c *Client) publish(event *Event) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, box := range c.subscribers {
		box.Put(event)
	}
}

func (c *Client) closeSubscribers() {
	c.subsMu.Lock()
	subscribers := c.subscribers
	c.subscribers = make(map[int]*gosync.Mailbox[*Event])
	c.subsMu.Unlock()
	for _, box := range subscribers {
		box.Close()
	}
}

func (c *Client) serveRunInTerminal(ctx context.Context, req *dap.RunInTerminalRequest) {
	c.handlerMu.RLock()
	handler := c.runInTerminal
	c.handlerMu.RUnlock()
	if handler == nil {
		c.sendErrorResponse(req.Seq, req.Command, "runInTerminal is not supported")
		return
	}
	pid, err := handler(ctx, req.Arguments)
	if err != nil {
		logrus.Errorf("[Client] %s runInTerminal fail, err = %v", c.option.Name, err)
		c.sendErrorResponse(req.Seq, req.Command, err.Error())
		return
	}
	response := &dap.RunInTerminalResponse{}
	response.Response = *c.newResponse(req.Seq, req.Command)
	response.Body.ProcessId = pid
	response.Body.ShellProcessId = os.Getpid()
	if err = c.send(response); err != nil {
		logrus.Errorf("[Client] %s send runInTerminal response fail, err = %v", c.option.Name, err)
	}
}

// sendRequest 发送请求并等待响应
func (c *Client) sendRequest(ctx context.Context, command string, arguments interface{}) (dap.ResponseMessage, error) {
	seq := c.nextSeq()
	ch := make(chan result, 1)

	c.pendingMu.Lock()
	if c.isClosed() {
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: %w", command, e.ErrClientClosed)
	}
	c.pending[seq] = ch
	c.pendingMu.Unlock()

	req := &request{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
			Command:         command,
		},
		Arguments: arguments,
	}
	if err := c.send(req); err != nil {
		c.forget(seq)
		return nil, fmt.Errorf("send %s request: %w", command, err)
	}

	select {
	case <-ctx.Done():
		c.forget(seq)
		return nil, fmt.Errorf("%s: %w", command, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%s: %w", command, r.err)
		}
		if err := checkResponse(command, r.message); err != nil {
			return nil, err
		}
		return r.message, nil
	}
}

func (c *Client) forget(seq int) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

func (c *Client) nextSeq() int {
	return int(atomic.AddInt64(&c.seq, 1))
}

// send 写入一条消息，写操作需要串行
func (c *Client) send(message dap.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.option.Trace {
		logrus.Tracef("[Client] %s -> %+v", c.option.Name, message)
	}
	return dap.WriteProtocolMessage(c.conn, message)
}

func (c *Client) newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  c.nextSeq(),
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func (c *Client) sendErrorResponse(requestSeq int, command string, message string) {
	er := &dap.ErrorResponse{}
	er.Response = *c.newResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{Format: message}
	if err := c.send(er); err != nil {
		logrus.Errorf("[Client] %s send error response fail, err = %v", c.option.Name, err)
	}
}
