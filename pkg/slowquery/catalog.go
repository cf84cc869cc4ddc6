/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package slowquery

import (
	"regexp"
)

type (
	// Rule maps a detection pattern to an operation name. TargetLabel, QueryLabel and
	// SortLabel locate the payload of the operation inside the message; empty means
	// the rule extracts nothing for that field.
	Rule struct {
		Name        string
		Detect      *regexp.Regexp
		TargetLabel string
		QueryLabel  string
		SortLabel   string
	}
	// IgnoreRule marks messages that are never classified.
	IgnoreRule struct {
		Detect *regexp.Regexp
	}
	// ValueRule replaces every match of Detect with Replacement. A match whose first
	// capture group is listed in Keep is left as is. Without Keep, Replacement may refer
	// to capture groups (${1}) and a literal $ is written $$.
	ValueRule struct {
		Detect      *regexp.Regexp
		Replacement string
		Keep        []string
		keep        map[string]struct{}
	}
	// Catalog is the read-only rule set used by a Classifier. Rule order is significant:
	// the first matching rule wins and value rules run in sequence.
	Catalog struct {
		Rules       []Rule
		IgnoreRules []IgnoreRule
		ValueRules  []ValueRule
	}
)

// NewCatalog builds a catalog. The slices are copied so later changes by the caller
// do not leak into classifiers sharing the catalog.
func NewCatalog(rules []Rule, ignores []IgnoreRule, values []ValueRule) *Catalog {
	c := &Catalog{
		Rules:       append([]Rule(nil), rules...),
		IgnoreRules: append([]IgnoreRule(nil), ignores...),
		ValueRules:  make([]ValueRule, len(values)),
	}
	for i, v := range values {
		if len(v.Keep) > 0 {
			v.keep = make(map[string]struct{}, len(v.Keep))
			for _, k := range v.Keep {
				v.keep[k] = struct{}{}
			}
		}
		c.ValueRules[i] = v
	}
	return c
}

// IsIgnored reports whether msg matches any ignore rule.
func (c *Catalog) IsIgnored(msg string) bool {
	for i := range c.IgnoreRules {
		if c.IgnoreRules[i].Detect.MatchString(msg) {
			return true
		}
	}
	return false
}

// Match returns the first rule whose pattern matches msg, or nil.
func (c *Catalog) Match(msg string) *Rule {
	for i := range c.Rules {
		if c.Rules[i].Detect.MatchString(msg) {
			return &c.Rules[i]
		}
	}
	return nil
}

// Normalize erases literal values from query while keeping keys, operators and nesting.
func (c *Catalog) Normalize(query string) string {
	for i := range c.ValueRules {
		query = c.ValueRules[i].apply(query)
	}
	return query
}

func (v *ValueRule) apply(s string) string {
	if len(v.keep) == 0 {
		return v.Detect.ReplaceAllString(s, v.Replacement)
	}
	return v.Detect.ReplaceAllStringFunc(s, func(m string) string {
		groups := v.Detect.FindStringSubmatch(m)
		if len(groups) > 1 {
			if _, ok := v.keep[groups[1]]; ok {
				return m
			}
		}
		return v.Replacement
	})
}
