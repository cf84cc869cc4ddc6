/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package output

import (
	"github.com/pkg/errors"
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/logger"
)

const (
	ConsoleType    = "console"
	SlackType      = "slack"
	ConfluenceType = "confluence"
)

type (
	Factory func(appconfig.OutputConfig) (Output, error)
)

var factories = make(map[string]Factory)

func Register(outputType string, factory Factory) {
	if _, exist := factories[outputType]; exist {
		logger.Warnf("[plugin] register output factory %+v already exist, cover it", outputType)
	}
	factories[outputType] = factory
}

func Parse(outputType string, config appconfig.OutputConfig) (Output, error) {
	if outputType == "" {
		outputType = ConsoleType
	}
	if f, ok := factories[outputType]; ok {
		return f(config)
	}
	return nil, errors.New("unsupported output type " + outputType)
}

// Build creates a composite of every type listed in config.Types.
func Build(config appconfig.OutputConfig) (Output, error) {
	var array []Output
	for _, t := range config.Types {
		o, err := Parse(t, config)
		if err != nil {
			return nil, errors.Wrapf(err, "build output %s", t)
		}
		array = append(array, o)
	}
	return Composite(array...), nil
}
