/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package output

import (
	"context"
	"fmt"

	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"github.com/traas-stack/slowquery-agent/pkg/metrics"
	"github.com/traas-stack/slowquery-agent/pkg/model"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type (
	Output interface {
		Name() string

		// Write delivers one report. It blocks until the sink accepted or rejected it.
		Write(ctx context.Context, report *model.Report) error

		model.Module
	}
	composite struct {
		array []Output
	}
	// APIError is a non 2xx answer of a remote sink.
	APIError struct {
		Output     string
		StatusCode int
		Body       string
	}
)

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error, status=[%d] body=[%s]", e.Output, e.StatusCode, e.Body)
}

func (c *composite) Name() string {
	return "composite"
}

// Write writes to every output even if some of them fail. Failures are logged, counted and
// returned combined.
func (c *composite) Write(ctx context.Context, report *model.Report) error {
	var err error
	for _, output := range c.array {
		if e := output.Write(ctx, report); e != nil {
			logger.Errorz("[output] write error", zap.String("output", output.Name()), zap.String("scanId", report.ScanID), zap.Error(e))
			metrics.OutputErrors.WithLabelValues(output.Name()).Inc()
			err = multierr.Append(err, e)
		}
	}
	return err
}

func (c *composite) Start() {
	for _, output := range c.array {
		output.Start()
	}
}

func (c *composite) Stop() {
	for _, output := range c.array {
		output.Stop()
	}
}

func Composite(array ...Output) Output {
	cpy := make([]Output, 0, len(array))
	for _, o := range array {
		if o != nil {
			cpy = append(cpy, o)
		}
	}
	return &composite{array: cpy}
}
