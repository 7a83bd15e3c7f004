package trace

// Snapshot 可以被记录的快照
type Snapshot interface {
	// FrameCount 快照中属于用户代码的栈帧数量
	FrameCount() int
}

// StepsAccumulator 记录每一步相对于上一步的补丁
// 只能被一个协程使用
type StepsAccumulator struct {
	previous interface{}
	patches  Trace
}

func NewStepsAccumulator() *StepsAccumulator {
	return &StepsAccumulator{
		patches: Trace{},
	}
}

// Record 记录一个快照
// 没有用户代码栈帧的快照不会被记录，也不会替换上一个快照
func (a *StepsAccumulator) Record(snapshot Snapshot) (bool, error) {
	if snapshot == nil || snapshot.FrameCount() == 0 {
		return false, nil
	}
	tree, err := ToTree(snapshot)
	if err != nil {
		return false, err
	}
	a.patches = append(a.patches, Diff(a.previous, tree))
	a.previous = tree
	return true, nil
}

// Patches 已经记录的补丁
func (a *StepsAccumulator) Patches() Trace {
	out := make(Trace, len(a.patches))
	copy(out, a.patches)
	return out
}

// Len 已经记录的步骤数
func (a *StepsAccumulator) Len() int {
	return len(a.patches)
}
