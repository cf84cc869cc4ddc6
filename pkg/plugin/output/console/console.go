/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package console

import (
	"context"

	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"github.com/traas-stack/slowquery-agent/pkg/model"
	"github.com/traas-stack/slowquery-agent/pkg/plugin/output"
	"go.uber.org/zap"
)

var Console output.Output = &ConsoleOutput{}

type (
	// ConsoleOutput writes reports to the info log.
	ConsoleOutput struct{}
)

func NewConsoleOutput() (output.Output, error) {
	return Console, nil
}

func (c *ConsoleOutput) Name() string {
	return output.ConsoleType
}

func (c *ConsoleOutput) Write(ctx context.Context, r *model.Report) error {
	logger.Infoz("[output] [console] report",
		zap.String("scanId", r.ScanID),
		zap.Int("seq", r.Sequence),
		zap.String("area", r.Area),
		zap.String("source", r.Source),
		zap.Time("start", r.Start),
		zap.Time("end", r.End),
		zap.Bool("final", r.Final),
		zap.Int("patterns", len(r.Patterns)),
		zap.Int("unclassified", len(r.Unclassified)),
		zap.Any("counts", r.Counts))
	for _, p := range r.Patterns {
		logger.Infoz("[output] [console] pattern",
			zap.String("key", p.Key),
			zap.String("db", p.Database),
			zap.String("op", p.Operation),
			zap.String("target", p.Target),
			zap.String("query", p.NormalizedQuery),
			zap.Int64("count", p.Count),
			zap.Int64("maxMs", p.MaxExecMillis),
			zap.Int64("avgMs", p.AvgExecMillis()))
	}
	for _, u := range r.Unclassified {
		logger.Infoz("[output] [console] unclassified",
			zap.Int("count", u.Count),
			zap.Strings("namespaces", u.Namespaces),
			zap.String("sample", u.Sample))
	}
	return nil
}

func (c *ConsoleOutput) Start() {
}

func (c *ConsoleOutput) Stop() {
}
