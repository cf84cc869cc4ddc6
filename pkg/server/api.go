/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package server

import (
	"net/http"
)

type (
	ApiServerFunc struct {
		F          http.HandlerFunc
		MoreUsages []string
	}
	// Registrar is implemented by packages exposing their own endpoints.
	Registrar func(mux *http.ServeMux)
)

// HandleFunc registers handler on the server mux and remembers it for the help page.
// A pattern registered twice keeps the first handler.
func (h *HttpServer) HandleFunc(pattern string, handler http.HandlerFunc, additionalUsages ...string) {
	h.apiMu.Lock()
	defer h.apiMu.Unlock()
	if _, exist := h.apis[pattern]; exist {
		return
	}
	h.apis[pattern] = ApiServerFunc{F: handler, MoreUsages: additionalUsages}
	h.mux.HandleFunc(pattern, handler)
}

func (h *HttpServer) Handle(pattern string, handler http.Handler, additionalUsages ...string) {
	h.HandleFunc(pattern, handler.ServeHTTP, additionalUsages...)
}

// Register lets r add endpoints directly. They do not show up on the help page.
func (h *HttpServer) Register(r Registrar) {
	r(h.mux)
}
