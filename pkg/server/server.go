/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package server is the agent's http endpoint for metrics, debugging and ad hoc classification.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 5 * time.Second
	readTimeout     = 30 * time.Second
)

type (
	HttpServer struct {
		addr  string
		mux   *http.ServeMux
		apiMu sync.RWMutex
		apis  map[string]ApiServerFunc

		mutex    sync.Mutex
		server   *http.Server
		listener net.Listener
	}
)

func NewHttpServer(addr string) *HttpServer {
	h := &HttpServer{
		addr: addr,
		mux:  http.NewServeMux(),
		apis: make(map[string]ApiServerFunc),
	}
	h.mux.HandleFunc("/", h.printHelp)
	return h
}

func (h *HttpServer) Handler() http.Handler {
	return h.mux
}

// Listen binds the address so that Addr is known before Serve.
func (h *HttpServer) Listen() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.mutex.Lock()
	h.listener = ln
	h.server = &http.Server{Handler: h.mux, ReadHeaderTimeout: readTimeout}
	h.mutex.Unlock()
	logger.Infoz("[http] listen", zap.String("addr", ln.Addr().String()))
	return nil
}

func (h *HttpServer) Addr() string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

// Serve blocks until Stop. It returns nil after a graceful stop.
func (h *HttpServer) Serve() error {
	h.mutex.Lock()
	server, ln := h.server, h.listener
	h.mutex.Unlock()
	if server == nil {
		return fmt.Errorf("http server %s is not listening", h.addr)
	}
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		logger.Errorz("[http] serve error", zap.String("addr", h.addr), zap.Error(err))
		return err
	}
	return nil
}

func (h *HttpServer) Stop() {
	h.mutex.Lock()
	server := h.server
	h.server = nil
	h.mutex.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			server.Close()
		}
	}
}

func (h *HttpServer) buildHelps() string {
	h.apiMu.RLock()
	urls := make([]string, 0, len(h.apis))
	usages := make(map[string][]string, len(h.apis))
	for k, v := range h.apis {
		urls = append(urls, k)
		usages[k] = v.MoreUsages
	}
	h.apiMu.RUnlock()
	sort.Strings(urls)

	var sb strings.Builder
	sb.WriteString("Some help msg for slowquery-agent:\n")
	for _, k := range urls {
		fmt.Fprintf(&sb, "curl %s%s\n", h.Addr(), k)
		for _, u := range usages[k] {
			if u != "" {
				fmt.Fprintf(&sb, "%s%s\n", strings.Repeat(" ", 5), u)
			}
		}
	}
	return sb.String()
}

func (h *HttpServer) printHelp(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Write([]byte(h.buildHelps()))
}
