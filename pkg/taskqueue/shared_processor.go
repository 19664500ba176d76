package taskqueue

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	sharedProcessor     *CallbackProcessor
	sharedProcessorOnce sync.Once
)

// GetSharedCallbackProcessor 返回进程级单例的回调处理器
// API进程和工作进程各自持有一个实例，回调注册集中在一处
// 后续调用忽略传入的queue和logger，沿用首次创建时的依赖
func GetSharedCallbackProcessor(queue Queue, logger *logrus.Logger) *CallbackProcessor {
	sharedProcessorOnce.Do(func() {
		sharedProcessor = NewCallbackProcessor(queue, logger)
	})
	return sharedProcessor
}
