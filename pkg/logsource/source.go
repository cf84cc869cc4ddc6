/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package logsource reads mongod slow operation records from log files or Aliyun SLS.
package logsource

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/logparser"
)

type (
	// Source emits parsed records. Run returns nil when the source is exhausted or ctx is done.
	// Run must not be called more than once.
	Source interface {
		Name() string
		Run(ctx context.Context, out chan<- *logparser.Record) error
	}
)

// New creates the source selected by cfg.Type.
func New(cfg appconfig.SourceConfig) (Source, error) {
	switch cfg.Type {
	case appconfig.SourceTypeFile, "":
		if cfg.File.Path == "" {
			return nil, errors.New("file source requires a path")
		}
		return NewFileSource(cfg.File), nil
	case appconfig.SourceTypeSls:
		return NewSlsSource(cfg.Sls)
	default:
		return nil, errors.Errorf("unsupported source type %s", cfg.Type)
	}
}

func emit(ctx context.Context, out chan<- *logparser.Record, r *logparser.Record) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleep returns false when ctx is done before d elapses.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
