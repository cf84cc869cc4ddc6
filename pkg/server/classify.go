/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"github.com/traas-stack/slowquery-agent/pkg/slowquery"
	"go.uber.org/zap"
)

const maxClassifyBody = 1 << 20

// ClassifyHandler classifies the posted slowquery.Input. Ignored messages answer {"outcome":"ignored"}.
func ClassifyHandler(c *slowquery.Classifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var in slowquery.Input
		if err := json.NewDecoder(io.LimitReader(r.Body, maxClassifyBody)).Decode(&in); err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
		result := c.Classify(in)
		logger.Debugz("[http] classify", zap.String("message", in.Message), zap.String("outcome", string(slowquery.OutcomeOf(result))))

		var body interface{} = result
		if result == nil {
			body = map[string]string{"outcome": string(slowquery.OutcomeIgnored)}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}
