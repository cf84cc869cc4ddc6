/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package loganalysis clusters messages no catalog rule recognized into candidate shapes.
package loganalysis

import "sort"

const (
	DefaultLogPatterns       = 64
	DefaultMaxNamespaceCount = 60
	DefaultMaxLogLength      = 1024
)

type (
	// Analyzer is not safe for concurrent use.
	Analyzer struct {
		logs            []*AnalyzedLog
		maxLogLength    int
		maxPatternCount int
		// dropped counts messages that fit no cluster once maxPatternCount was reached
		dropped int
	}
	AnalyzedLog struct {
		Parts      []*LAPart        `json:"-"`
		Sample     string           `json:"sample,omitempty"`
		Count      int              `json:"count,omitempty"`
		Namespaces []*NamespaceWord `json:"namespaces,omitempty"`
		namespaces map[string]int
	}
	NamespaceWord struct {
		Namespace string `json:"namespace"`
		Count     int    `json:"count"`
	}
)

func NewAnalyzer(maxLogLength, maxPatternCount int) *Analyzer {
	if maxLogLength <= 0 {
		maxLogLength = DefaultMaxLogLength
	}
	if maxPatternCount <= 0 {
		maxPatternCount = DefaultLogPatterns
	}
	return &Analyzer{
		maxLogLength:    maxLogLength,
		maxPatternCount: maxPatternCount,
	}
}

func newAnalyzedLog(parts []*LAPart, sample string) *AnalyzedLog {
	el := &AnalyzedLog{Parts: parts, Sample: sample}
	el.merge(parts)
	return el
}

func (el *AnalyzedLog) merge(parts []*LAPart) {
	el.Count++
	if el.namespaces == nil {
		el.namespaces = make(map[string]int)
	}

	for _, p := range parts {
		if !p.Namespace {
			continue
		}
		if _, ok := el.namespaces[p.Content]; ok {
			el.namespaces[p.Content]++
		} else if len(el.namespaces) < DefaultMaxNamespaceCount {
			el.namespaces[p.Content] = 1
		}
	}
}

// Analyze merges log into the first similar cluster or starts a new one.
func (a *Analyzer) Analyze(log string) {
	if len(log) > a.maxLogLength {
		log = log[:a.maxLogLength]
	}
	parts := dissembleParts(log)
	for _, ea := range a.logs {
		if isSimilar(parts, ea.Parts) {
			ea.merge(parts)
			return
		}
	}

	if len(a.logs) < a.maxPatternCount {
		a.logs = append(a.logs, newAnalyzedLog(parts, log))
	} else {
		a.dropped++
	}
}

// AnalyzedLogs returns clusters ordered by count, largest first.
func (a *Analyzer) AnalyzedLogs() []*AnalyzedLog {
	for _, log := range a.logs {
		log.Namespaces = make([]*NamespaceWord, 0, len(log.namespaces))
		for ns, count := range log.namespaces {
			log.Namespaces = append(log.Namespaces, &NamespaceWord{
				Namespace: ns,
				Count:     count,
			})
		}
		sort.Slice(log.Namespaces, func(i, j int) bool {
			if log.Namespaces[i].Count != log.Namespaces[j].Count {
				return log.Namespaces[i].Count > log.Namespaces[j].Count
			}
			return log.Namespaces[i].Namespace < log.Namespaces[j].Namespace
		})
	}
	ret := make([]*AnalyzedLog, len(a.logs))
	copy(ret, a.logs)
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].Count > ret[j].Count
	})
	return ret
}

func (a *Analyzer) Dropped() int {
	return a.dropped
}

func (a *Analyzer) Clear() {
	a.logs = nil
	a.dropped = 0
}
