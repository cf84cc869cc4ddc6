/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package util

import (
	"runtime"
	"sync"

	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"go.uber.org/zap"
)

// WithRecover runs handler and turns a panic into an error log plus the recover handlers.
func WithRecover(handler func(), recoverHandlers ...func(p interface{})) {
	defer func() {
		if r := recover(); r != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			logger.Errorz("goroutine panic", zap.Any("err", r), zap.String("stack", string(buf)))

			for _, f := range recoverHandlers {
				if f != nil {
					f(r)
				}
			}
		}
	}()
	handler()
}

func GoWithSyncGroup(handler func(), wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		handler()
	}()
}
