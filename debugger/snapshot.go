package debugger

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/emirpasic/gods/sets"
	"github.com/fansqz/go-step-tracer/constants"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Requester 读取快照需要的DAP请求
type Requester interface {
	StackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error)
	Scopes(ctx context.Context, frameID int) ([]dap.Scope, error)
	Variables(ctx context.Context, reference int) ([]dap.Variable, error)
}

// SnapshotBuilder 在程序暂停时读取用户代码的栈帧、作用域与变量
// 同一层的请求并发发送，结果保持adapter返回的顺序
type SnapshotBuilder struct {
	requester Requester
	backend   *Backend
	tracked   sets.Set
}

func NewSnapshotBuilder(requester Requester, backend *Backend, tracked sets.Set) *SnapshotBuilder {
	return &SnapshotBuilder{
		requester: requester,
		backend:   backend,
		tracked:   tracked,
	}
}

// Build 读取线程当前的快照
// topTracked 表示当前执行位置（第一个栈帧）是否在用户代码中
func (s *SnapshotBuilder) Build(ctx context.Context, threadID int) (*StepSnapshot, bool, error) {
	frames, err := s.requester.StackTrace(ctx, threadID)
	if err != nil {
		return nil, false, fmt.Errorf("stackTrace: %w", err)
	}
	topTracked := len(frames) > 0 && s.IsTracked(frames[0])

	trackedFrames := make([]dap.StackFrame, 0, len(frames))
	for _, frame := range frames {
		if s.IsTracked(frame) {
			trackedFrames = append(trackedFrames, frame)
		}
	}

	snapshot := &StepSnapshot{StackFrames: make([]*StackFrame, len(trackedFrames))}
	g, gctx := errgroup.WithContext(ctx)
	for i, frame := range trackedFrames {
		i, frame := i, frame
		g.Go(func() error {
			stackFrame, err := s.buildFrame(gctx, frame)
			if err != nil {
				return err
			}
			snapshot.StackFrames[i] = stackFrame
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, topTracked, err
	}
	return snapshot, topTracked, nil
}

// IsTracked 栈帧的源文件是否是需要跟踪的文件
func (s *SnapshotBuilder) IsTracked(frame dap.StackFrame) bool {
	if frame.Source == nil || frame.Source.Path == "" {
		return false
	}
	return s.tracked.Contains(filepath.Clean(frame.Source.Path))
}

func (s *SnapshotBuilder) buildFrame(ctx context.Context, frame dap.StackFrame) (*StackFrame, error) {
	scopes, err := s.requester.Scopes(ctx, frame.Id)
	if err != nil {
		return nil, fmt.Errorf("scopes of frame %d: %w", frame.Id, err)
	}
	stackFrame := &StackFrame{
		ID:     frame.Id,
		Name:   frame.Name,
		Path:   filepath.Clean(frame.Source.Path),
		Line:   frame.Line,
		Column: frame.Column,
		Scopes: make([]*Scope, len(scopes)),
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, scope := range scopes {
		i, scope := i, scope
		g.Go(func() error {
			result, err := s.buildScope(gctx, scope)
			if err != nil {
				return err
			}
			stackFrame.Scopes[i] = result
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}
	return stackFrame, nil
}

func (s *SnapshotBuilder) buildScope(ctx context.Context, scope dap.Scope) (*Scope, error) {
	result := &Scope{
		Name:               scope.Name,
		PresentationHint:   scope.PresentationHint,
		VariablesReference: scope.VariablesReference,
		Expensive:          scope.Expensive,
		Variables:          []*Variable{},
	}
	if !s.backend.DigScope(scope) {
		return result, nil
	}
	variables, err := s.requester.Variables(ctx, scope.VariablesReference)
	if err != nil {
		return nil, fmt.Errorf("variables of scope %s: %w", scope.Name, err)
	}
	result.Variables = s.buildVariables(ctx, variables, 0, maxDepthOf(scope))
	return result, nil
}

// maxDepthOf 局部作用域读取三层子变量，其他作用域不读取子变量
func maxDepthOf(scope dap.Scope) int {
	if strings.HasPrefix(scope.Name, constants.LocalScopePrefix) {
		return constants.LocalVariablesMaxDepth
	}
	return constants.OtherVariablesMaxDepth
}

func (s *SnapshotBuilder) buildVariables(ctx context.Context, variables []dap.Variable, depth int, maxDepth int) []*Variable {
	result := make([]*Variable, len(variables))
	var g errgroup.Group
	for i, variable := range variables {
		i, variable := i, variable
		g.Go(func() error {
			result[i] = s.buildVariable(ctx, variable, depth, maxDepth)
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// buildVariable 读取变量的子变量
// 读取失败时该变量没有子变量，不影响其他变量
func (s *SnapshotBuilder) buildVariable(ctx context.Context, variable dap.Variable, depth int, maxDepth int) *Variable {
	result := &Variable{
		Name:               variable.Name,
		Type:               variable.Type,
		Value:              variable.Value,
		VariablesReference: variable.VariablesReference,
		Variables:          []*Variable{},
	}
	if variable.VariablesReference <= 0 || depth >= maxDepth || !s.backend.DigVariable(variable) {
		return result
	}
	children, err := s.requester.Variables(ctx, variable.VariablesReference)
	if err != nil {
		logrus.Debugf("[SnapshotBuilder] get children of %s fail, err = %v", variable.Name, err)
		return result
	}
	result.Variables = s.buildVariables(ctx, children, depth+1, maxDepth)
	return result
}
