/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package console

import (
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/plugin/output"
)

func init() {
	output.Register(output.ConsoleType, func(config appconfig.OutputConfig) (output.Output, error) {
		return NewConsoleOutput()
	})
}
