package protocol

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	e "github.com/fansqz/go-step-tracer/error"
	"github.com/fansqz/go-step-tracer/protocol/daptest"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, script daptest.Script) (*Client, *daptest.Server) {
	server, err := daptest.NewServer(script)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	client, err := Dial(context.Background(), server.Host(), server.Port(), ClientOption{Name: t.Name(), Trace: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, server
}

func nextEvent(t *testing.T, events <-chan *Event) *Event {
	select {
	case event, ok := <-events:
		require.True(t, ok, "event channel closed")
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return nil
}

func TestClientInitializeAndEvents(t *testing.T) {
	client, _ := newTestClient(t, daptest.Script{})
	events, unsubscribe := client.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	capabilities, err := client.Initialize(ctx, dap.InitializeRequestArguments{AdapterID: "test", LinesStartAt1: true})
	require.NoError(t, err)
	assert.True(t, capabilities.SupportsConfigurationDoneRequest)

	event := nextEvent(t, events)
	assert.Equal(t, "initialized", string(event.Type()))
}

func TestClientBreakpointsAndStops(t *testing.T) {
	script := daptest.Script{
		VerifiedLines: []int{2, 4},
		Stops: []daptest.Stop{
			{
				Noise: []daptest.Noise{{Reason: "pause"}, {Reason: "step", NoThreadID: true}},
				Frames: []daptest.Frame{{
					Name: "main", Path: "/tmp/main.c", Line: 2,
					Scopes: []daptest.Scope{{Name: "Locals", Vars: []daptest.Var{
						{Name: "a", Value: "1", Type: "int"},
						{Name: "p", Value: "{...}", Type: "point", Children: []daptest.Var{{Name: "x", Value: "3", Type: "int"}}},
					}}},
				}},
			},
		},
	}
	client, server := newTestClient(t, script)
	events, unsubscribe := client.Subscribe()
	defer unsubscribe()
	ctx := context.Background()

	_, err := client.Initialize(ctx, dap.InitializeRequestArguments{AdapterID: "test"})
	require.NoError(t, err)
	require.NoError(t, client.Launch(ctx, map[string]interface{}{"program": "/tmp/main"}))
	assert.Equal(t, "/tmp/main", server.LaunchArguments()["program"])

	breakpoints, err := client.SetBreakpoints(ctx, dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: "/tmp/main.c"},
		Breakpoints: []dap.SourceBreakpoint{{Line: 1}, {Line: 2}, {Line: 3}, {Line: 4}},
	})
	require.NoError(t, err)
	require.Len(t, breakpoints, 4)
	assert.False(t, breakpoints[0].Verified)
	assert.True(t, breakpoints[1].Verified)
	assert.Equal(t, 2, breakpoints[1].Line)

	require.NoError(t, client.ConfigurationDone(ctx))

	assert.Equal(t, "initialized", string(nextEvent(t, events).Type()))
	pause := nextEvent(t, events)
	assert.Equal(t, "pause", string(pause.StoppedReason()))
	missing := nextEvent(t, events)
	_, ok := missing.StoppedThreadID()
	assert.False(t, ok)
	stopped := nextEvent(t, events)
	assert.Equal(t, "breakpoint", string(stopped.StoppedReason()))
	threadID, ok := stopped.StoppedThreadID()
	require.True(t, ok)
	assert.Equal(t, 1, threadID)

	frames, err := client.StackTrace(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].Source)
	assert.Equal(t, "/tmp/main.c", frames[0].Source.Path)

	scopes, err := client.Scopes(ctx, frames[0].Id)
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	variables, err := client.Variables(ctx, scopes[0].VariablesReference)
	require.NoError(t, err)
	require.Len(t, variables, 2)
	assert.Zero(t, variables[0].VariablesReference)
	children, err := client.Variables(ctx, variables[1].VariablesReference)
	require.NoError(t, err)
	assert.Equal(t, "x", children[0].Name)

	require.NoError(t, client.StepIn(ctx, threadID))
	exited := nextEvent(t, events)
	code, ok := exited.ExitCode()
	require.True(t, ok)
	assert.Zero(t, code)
	assert.Equal(t, "terminated", string(nextEvent(t, events).Type()))
	assert.Equal(t, []string{"stepIn"}, server.Steps())
}

func TestClientErrorResponse(t *testing.T) {
	client, _ := newTestClient(t, daptest.Script{FailLaunch: true})
	err := client.Launch(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	var responseErr *ResponseError
	require.True(t, errors.As(err, &responseErr))
	assert.Equal(t, "launch", responseErr.Command)
	assert.Equal(t, "launch failed", responseErr.Message)
}

func TestClientRunInTerminal(t *testing.T) {
	script := daptest.Script{RunInTerminal: &dap.RunInTerminalRequestArguments{Args: []string{"/bin/true"}}}
	client, server := newTestClient(t, script)
	received := make(chan []string, 1)
	client.HandleRunInTerminal(func(ctx context.Context, args dap.RunInTerminalRequestArguments) (int, error) {
		received <- args.Args
		return 4242, nil
	})
	require.NoError(t, client.Launch(context.Background(), map[string]interface{}{}))
	assert.Equal(t, []string{"/bin/true"}, <-received)
	assert.Equal(t, 4242, server.TerminalProcessID())
}

func TestClientCloseFailsPending(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	client := NewClient(local, ClientOption{Name: "pipe"})
	// 读走请求但不响应
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		_, err := client.StackTrace(context.Background(), 1)
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, e.ErrClientClosed))
	case <-time.After(5 * time.Second):
		t.Fatal("pending request was not failed")
	}
	_, err := client.Scopes(context.Background(), 1)
	assert.True(t, errors.Is(err, e.ErrClientClosed))

	events, _ := client.Subscribe()
	_, ok := <-events
	assert.False(t, ok)
}

func TestClientRequestContextCancel(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	client := NewClient(local, ClientOption{Name: "pipe"})
	defer client.Close()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Variables(ctx, 3)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
