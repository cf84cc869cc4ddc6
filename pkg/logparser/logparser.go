/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package logparser turns mongod slow operation log lines into records.
package logparser

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/vjeantet/grok"
)

const (
	// SlowOpExpression matches the legacy (pre 4.4) mongod text format, e.g.
	// 2023-07-22T10:00:00.000+0000 I COMMAND  [conn12] command shop.orders command: find { ... } 150ms
	SlowOpExpression = `^%{TIMESTAMP_ISO8601:time}\s+%{WORD:severity}\s+%{NOTSPACE:component}\s+\[%{DATA:context}\]\s+%{WORD:opType}\s+%{NOTSPACE:namespace}\s+%{GREEDYDATA:rest}\s%{INT:millis}ms\s*$`

	timeLayout = "2006-01-02T15:04:05.000-0700"
)

var (
	ErrNotMatched = errors.New("log line does not match slow operation format")
)

type (
	Record struct {
		Time      time.Time
		Severity  string
		Component string
		Context   string
		// CommandType is the operation type mongod logged before the namespace: command, query,
		// update, remove, getmore, insert...
		CommandType string
		Namespace   string
		Database    string
		Collection  string
		// Message is the whole line
		Message    string
		ExecMillis int64
	}

	// Parser is safe for concurrent use.
	Parser struct {
		g          *grok.Grok
		expression string
	}
)

var defaultParser *Parser

func init() {
	p, err := NewParser(SlowOpExpression)
	if err != nil {
		panic(err)
	}
	defaultParser = p
}

// NewParser builds a parser from a grok expression. The expression must capture namespace and
// may capture time, severity, component, context, opType and millis.
func NewParser(expression string) (*Parser, error) {
	g, err := grok.NewWithConfig(&grok.Config{NamedCapturesOnly: true})
	if err != nil {
		return nil, err
	}
	// compile once up front so a bad expression fails here instead of on every line
	if _, err := g.Parse(expression, ""); err != nil {
		return nil, errors.Wrapf(err, "invalid grok expression %s", expression)
	}
	return &Parser{g: g, expression: expression}, nil
}

// Parse uses SlowOpExpression.
func Parse(line string) (*Record, error) {
	return defaultParser.Parse(line)
}

func (p *Parser) Parse(line string) (*Record, error) {
	line = strings.TrimRight(line, "\r\n")
	m, err := p.g.Parse(p.expression, line)
	if err != nil {
		return nil, err
	}
	if len(m) == 0 || m["namespace"] == "" {
		return nil, ErrNotMatched
	}
	r := &Record{
		Severity:    m["severity"],
		Component:   m["component"],
		Context:     m["context"],
		CommandType: m["opType"],
		Namespace:   m["namespace"],
		Message:     line,
	}
	r.Database, r.Collection = SplitNamespace(r.Namespace)
	if s := m["millis"]; s != "" {
		r.ExecMillis = cast.ToInt64(s)
	}
	if s := m["time"]; s != "" {
		if t, err := time.Parse(timeLayout, s); err == nil {
			r.Time = t
		} else if t, err := cast.ToTimeE(s); err == nil {
			r.Time = t
		}
	}
	return r, nil
}

// SplitNamespace splits "db.collection". The collection may contain dots itself.
func SplitNamespace(ns string) (string, string) {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[:i], ns[i+1:]
	}
	return ns, ""
}
