/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package slowquery

import "strings"

const (
	OutcomeIgnored      Outcome = "ignored"
	OutcomeIneligible   Outcome = "ineligible"
	OutcomeUnclassified Outcome = "unclassified"
	OutcomeMatched      Outcome = "matched"

	commandTypeRemove = "remove"
)

var ineligibleDatabases = []string{"admin", "local"}

type (
	Outcome string

	// Input is one slow operation as reported by the log source. An empty CommandType
	// means the source did not report one.
	Input struct {
		CommandType string `json:"commandType"`
		Database    string `json:"database"`
		Message     string `json:"message"`
	}

	Result struct {
		CommandType     string  `json:"commandType"`
		Database        string  `json:"database"`
		Operation       string  `json:"operation"`
		Target          string  `json:"target"`
		NormalizedQuery string  `json:"normalizedQuery"`
		Outcome         Outcome `json:"outcome"`
	}

	// Classifier maps slow operation messages to query shapes. It holds no mutable state
	// and is safe for concurrent use.
	Classifier struct {
		catalog   *Catalog
		extractor ObjectExtractor
	}

	Option func(*Classifier)
)

// WithObjectExtractor replaces the default BraceScanner.
func WithObjectExtractor(e ObjectExtractor) Option {
	return func(c *Classifier) {
		if e != nil {
			c.extractor = e
		}
	}
}

// New creates a Classifier over catalog. A nil catalog means DefaultCatalog().
func New(catalog *Catalog, opts ...Option) *Classifier {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	c := &Classifier{
		catalog:   catalog,
		extractor: defaultExtractor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) Catalog() *Catalog {
	return c.catalog
}

// Classify returns nil when in.Message matches an ignore rule. Otherwise the result carries
// the outcome; Operation, Target and NormalizedQuery are only set for OutcomeMatched and may
// still be empty when the payload could not be extracted.
func (c *Classifier) Classify(in Input) *Result {
	if c.catalog.IsIgnored(in.Message) {
		return nil
	}
	r := &Result{
		CommandType: in.CommandType,
		Database:    in.Database,
	}
	if !eligible(in) {
		r.Outcome = OutcomeIneligible
		return r
	}
	rule := c.catalog.Match(in.Message)
	if rule == nil {
		r.Outcome = OutcomeUnclassified
		return r
	}
	r.Outcome = OutcomeMatched
	r.Operation = rule.Name
	if rule.TargetLabel != "" {
		r.Target, _ = ExtractTarget(in.Message, rule.TargetLabel)
	}
	if rule.QueryLabel != "" {
		query := c.objectAfter(in.Message, rule.QueryLabel)
		if rule.SortLabel != "" {
			query += c.objectAfter(in.Message, rule.SortLabel)
		}
		r.NormalizedQuery = c.catalog.Normalize(query)
	}
	return r
}

func (c *Classifier) objectAfter(msg, label string) string {
	idx := strings.Index(msg, label)
	if idx < 0 {
		return ""
	}
	obj, _ := c.extractor.ExtractObject(msg[idx:])
	return obj
}

// OutcomeOf folds the nil result of an ignored message into an Outcome.
func OutcomeOf(r *Result) Outcome {
	if r == nil {
		return OutcomeIgnored
	}
	return r.Outcome
}

func eligible(in Input) bool {
	if in.CommandType == "" || in.CommandType == commandTypeRemove {
		return false
	}
	for _, db := range ineligibleDatabases {
		if in.Database == db {
			return false
		}
	}
	return true
}
