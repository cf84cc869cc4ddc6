/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package logger

import (
	"net/http"
	"sync"
	"time"
)

const debugAutoOff = 10 * time.Hour

// RegisterHttpHandler adds debug log toggles to mux. Debug logging turns itself off
// debugAutoOff after the last start.
func RegisterHttpHandler(mux *http.ServeMux) {
	var (
		mutex sync.Mutex
		timer *time.Timer
	)
	mux.HandleFunc("/api/log/debug/start", func(writer http.ResponseWriter, request *http.Request) {
		mutex.Lock()
		DebugEnabled = true
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debugAutoOff, func() {
			DebugEnabled = false
		})
		mutex.Unlock()
		writer.Write([]byte("OK"))
	})
	mux.HandleFunc("/api/log/debug/stop", func(writer http.ResponseWriter, request *http.Request) {
		DebugEnabled = false
		writer.Write([]byte("OK"))
	})
}
