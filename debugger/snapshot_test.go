package debugger

import (
	"context"
	"errors"
	"testing"

	"github.com/fansqz/go-step-tracer/utils"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRequester 根据预先准备好的数据响应请求
type fakeRequester struct {
	frames    []dap.StackFrame
	scopes    map[int][]dap.Scope
	variables map[int][]dap.Variable
	failRefs  map[int]bool
}

func (f *fakeRequester) StackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error) {
	return f.frames, nil
}

func (f *fakeRequester) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	return f.scopes[frameID], nil
}

func (f *fakeRequester) Variables(ctx context.Context, reference int) ([]dap.Variable, error) {
	if f.failRefs[reference] {
		return nil, errors.New("variables failed")
	}
	return f.variables[reference], nil
}

func frame(id int, path string) dap.StackFrame {
	return dap.StackFrame{Id: id, Name: "main", Source: &dap.Source{Path: path}, Line: id, Column: 1}
}

func TestSnapshotDepthBound(t *testing.T) {
	requester := &fakeRequester{
		frames: []dap.StackFrame{frame(1, "/src/main.c")},
		scopes: map[int][]dap.Scope{1: {
			{Name: "Locals", VariablesReference: 10},
			{Name: "Globals", VariablesReference: 20},
		}},
		variables: map[int][]dap.Variable{
			10: {{Name: "a", VariablesReference: 11}},
			11: {{Name: "b", VariablesReference: 12}},
			12: {{Name: "c", VariablesReference: 13}},
			13: {{Name: "d", VariablesReference: 14}},
			14: {{Name: "e"}},
			20: {{Name: "g", VariablesReference: 21}},
			21: {{Name: "h"}},
		},
	}
	builder := NewSnapshotBuilder(requester, &Backend{}, utils.List2set([]string{"/src/main.c"}))
	snapshot, topTracked, err := builder.Build(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, topTracked)
	require.Len(t, snapshot.StackFrames, 1)

	locals := snapshot.StackFrames[0].Scopes[0]
	a := locals.Variables[0]
	b := a.Variables[0]
	c := b.Variables[0]
	d := c.Variables[0]
	assert.Equal(t, "d", d.Name)
	assert.Equal(t, 14, d.VariablesReference)
	assert.Empty(t, d.Variables)

	globals := snapshot.StackFrames[0].Scopes[1]
	require.Len(t, globals.Variables, 1)
	assert.Equal(t, 21, globals.Variables[0].VariablesReference)
	assert.Empty(t, globals.Variables[0].Variables)
}

func TestSnapshotFilters(t *testing.T) {
	requester := &fakeRequester{
		frames: []dap.StackFrame{
			frame(1, "/usr/lib/libc.so"),
			frame(2, "/src/main.py"),
			{Id: 3, Name: "native"},
			frame(4, "/src/util.py"),
		},
		scopes: map[int][]dap.Scope{
			2: {{Name: "Locals", VariablesReference: 10}, {Name: "Registers", VariablesReference: 30}},
			4: {{Name: "Locals", VariablesReference: 40}},
		},
		variables: map[int][]dap.Variable{
			10: {{Name: "special variables", VariablesReference: 11}, {Name: "items", VariablesReference: 12}, {Name: "broken", VariablesReference: 13}},
			11: {{Name: "__name__"}},
			12: {{Name: "0", Value: "1"}},
			30: {{Name: "rax"}},
			40: {},
		},
		failRefs: map[int]bool{13: true},
	}
	backend := &Backend{
		CanDigScope:    func(scope dap.Scope) bool { return scope.Name != "Registers" },
		CanDigVariable: func(variable dap.Variable) bool { return variable.Name != "special variables" },
	}
	builder := NewSnapshotBuilder(requester, backend, utils.List2set([]string{"/src/main.py", "/src/util.py"}))
	snapshot, topTracked, err := builder.Build(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, topTracked)

	require.Len(t, snapshot.StackFrames, 2)
	assert.Equal(t, 2, snapshot.StackFrames[0].ID)
	assert.Equal(t, 4, snapshot.StackFrames[1].ID)

	scopes := snapshot.StackFrames[0].Scopes
	require.Len(t, scopes, 2)
	assert.Empty(t, scopes[1].Variables)
	variables := scopes[0].Variables
	require.Len(t, variables, 3)
	assert.Empty(t, variables[0].Variables)
	require.Len(t, variables[1].Variables, 1)
	assert.Equal(t, "1", variables[1].Variables[0].Value)
	assert.Empty(t, variables[2].Variables)
	assert.NotNil(t, snapshot.StackFrames[1].Scopes[0].Variables)
}

func TestSnapshotScopeError(t *testing.T) {
	requester := &fakeRequester{
		frames:   []dap.StackFrame{frame(1, "/src/main.c")},
		scopes:   map[int][]dap.Scope{1: {{Name: "Locals", VariablesReference: 10}}},
		failRefs: map[int]bool{10: true},
	}
	builder := NewSnapshotBuilder(requester, &Backend{}, utils.List2set([]string{"/src/main.c"}))
	_, _, err := builder.Build(context.Background(), 1)
	assert.Error(t, err)
}

func TestSnapshotNoTrackedFrames(t *testing.T) {
	requester := &fakeRequester{frames: []dap.StackFrame{frame(1, "/usr/lib/libc.so")}}
	builder := NewSnapshotBuilder(requester, &Backend{}, utils.List2set([]string{"/src/main.c"}))
	snapshot, topTracked, err := builder.Build(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, topTracked)
	assert.Zero(t, snapshot.FrameCount())
}
