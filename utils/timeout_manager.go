package utils

import (
	"context"
	"sync"
	"time"

	"github.com/fansqz/go-step-tracer/utils/gosync"
	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有执行reset命令，就会执行fun函数
type TimeoutManager struct {
	timer         *time.Timer
	timeout       time.Duration
	resetChannel  chan struct{}
	cancelChannel chan struct{}
	cancelOnce    sync.Once
	fun           func()
}

// NewTimeoutManager 创建一个新的计时器实例
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{
		resetChannel:  make(chan struct{}, 1),
		cancelChannel: make(chan struct{}),
	}
}

// Start 开始计时
// 在timeout时间内没有执行reset命令，就会执行fun函数，fun最多执行一次
func (t *TimeoutManager) Start(ctx context.Context, timeout time.Duration, option func()) {
	t.timer = time.NewTimer(timeout)
	t.timeout = timeout
	t.fun = option
	gosync.Go(ctx, func(ctx context.Context) {
		defer t.timer.Stop()
		for {
			select {
			case <-t.timer.C:
				logrus.Infof("[TimeoutManager] Timer expired, performing action")
				t.fun()
				return
			case <-t.resetChannel:
				logrus.Debugf("[TimeoutManager] reset")
				if !t.timer.Stop() {
					<-t.timer.C
				}
				t.timer.Reset(t.timeout)
			case <-t.cancelChannel:
				logrus.Debugf("[TimeoutManager] cancel")
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Reset 重置计时器，计时器已经结束时调用不会阻塞
func (t *TimeoutManager) Reset() {
	select {
	case t.resetChannel <- struct{}{}:
	default:
	}
}

// Cancel 取消计时，可以重复调用
func (t *TimeoutManager) Cancel() {
	t.cancelOnce.Do(func() {
		close(t.cancelChannel)
	})
}
