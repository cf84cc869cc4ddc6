/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package model

import (
	"sort"
	"time"
)

const (
	// CountSkipped counts records below the slow threshold
	CountSkipped = "skipped"
)

type (
	Module interface {
		Start()

		Stop()
	}

	// Report is one flush of a scan: every query shape seen since the previous flush.
	Report struct {
		ScanID   string    `json:"scanId"`
		Sequence int       `json:"sequence"`
		Area     string    `json:"area"`
		Host     string    `json:"host"`
		Source   string    `json:"source"`
		Start    time.Time `json:"start"`
		End      time.Time `json:"end"`
		// Final is set on the last report of a scan
		Final        bool                `json:"final"`
		Patterns     []*PatternStat      `json:"patterns"`
		Unclassified []*UnclassifiedStat `json:"unclassified,omitempty"`
		// Counts by classification outcome, plus CountSkipped
		Counts map[string]int64 `json:"counts"`
	}

	// PatternStat aggregates the records sharing one normalized query shape.
	PatternStat struct {
		Key             string    `json:"key"`
		CommandType     string    `json:"commandType"`
		Database        string    `json:"database"`
		Operation       string    `json:"operation"`
		Target          string    `json:"target"`
		NormalizedQuery string    `json:"normalizedQuery"`
		Count           int64     `json:"count"`
		MaxExecMillis   int64     `json:"maxExecMillis"`
		TotalExecMillis int64     `json:"totalExecMillis"`
		Sample          string    `json:"sample"`
		FirstSeen       time.Time `json:"firstSeen"`
		LastSeen        time.Time `json:"lastSeen"`
	}

	UnclassifiedStat struct {
		Sample     string   `json:"sample"`
		Count      int      `json:"count"`
		Namespaces []string `json:"namespaces,omitempty"`
	}
)

func (p *PatternStat) AvgExecMillis() int64 {
	if p.Count == 0 {
		return 0
	}
	return p.TotalExecMillis / p.Count
}

// Add merges one more occurrence. The sample is the slowest message seen.
func (p *PatternStat) Add(message string, execMillis int64, at time.Time) {
	p.Count++
	p.TotalExecMillis += execMillis
	if p.Sample == "" || execMillis > p.MaxExecMillis {
		p.MaxExecMillis = execMillis
		p.Sample = message
	}
	if p.FirstSeen.IsZero() || (!at.IsZero() && at.Before(p.FirstSeen)) {
		p.FirstSeen = at
	}
	if at.After(p.LastSeen) {
		p.LastSeen = at
	}
}

// SortPatterns orders by max exec time, slowest first, then by key.
func SortPatterns(patterns []*PatternStat) {
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].MaxExecMillis != patterns[j].MaxExecMillis {
			return patterns[i].MaxExecMillis > patterns[j].MaxExecMillis
		}
		return patterns[i].Key < patterns[j].Key
	})
}

func (r *Report) Empty() bool {
	return len(r.Patterns) == 0 && len(r.Unclassified) == 0
}
