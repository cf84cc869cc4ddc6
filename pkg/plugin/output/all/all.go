/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package all registers every output factory.
package all

import (
	_ "github.com/traas-stack/slowquery-agent/pkg/plugin/output/confluence"
	_ "github.com/traas-stack/slowquery-agent/pkg/plugin/output/console"
	_ "github.com/traas-stack/slowquery-agent/pkg/plugin/output/slack"
)
