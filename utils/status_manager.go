package utils

import "sync"

const (
	// Connecting 正在连接debug adapter
	Connecting = "connecting"
	// BreakpointsSet 断点已经协商完成
	BreakpointsSet = "breakpointsSet"
	// ConfigDone 已经发送configurationDone
	ConfigDone = "configDone"
	// Stopped 用户程序暂停，正在读取快照
	Stopped = "stopped"
	// Stepping 已经发出单步命令，等待下一个stopped事件
	Stepping = "stepping"
	// Terminated 用户程序结束
	Terminated = "terminated"
	// Destroyed 调试资源已经释放
	Destroyed = "destroyed"
)

// StatusManager 记录调试会话的状态
type StatusManager struct {
	lock   sync.RWMutex
	status string
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: Connecting,
	}
}

func (s *StatusManager) Set(status string) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

// Get 获取当前状态
func (s *StatusManager) Get() string {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...string) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}
