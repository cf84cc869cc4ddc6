/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package slowquery

import (
	"os"
	"regexp"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type (
	catalogFile struct {
		Rules       []ruleDef       `yaml:"rules"`
		IgnoreRules []ignoreRuleDef `yaml:"ignoreRules"`
		ValueRules  []valueRuleDef  `yaml:"valueRules"`
	}
	ruleDef struct {
		Name        string `yaml:"name"`
		Detect      string `yaml:"detect"`
		TargetLabel string `yaml:"targetLabel"`
		QueryLabel  string `yaml:"queryLabel"`
		SortLabel   string `yaml:"sortLabel"`
	}
	ignoreRuleDef struct {
		Detect string `yaml:"detect"`
	}
	valueRuleDef struct {
		Detect      string   `yaml:"detect"`
		Replacement string   `yaml:"replacement"`
		Keep        []string `yaml:"keep"`
	}
)

// LoadCatalog reads a YAML catalog from path. See ParseCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", path)
	}
	c, err := ParseCatalog(b)
	if err != nil {
		return nil, errors.Wrapf(err, "parse catalog %s", path)
	}
	return c, nil
}

// ParseCatalog builds a catalog from YAML. A section that is missing from the document
// falls back to the built-in rules of that section.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "unmarshal catalog")
	}

	rules := DefaultRules()
	if f.Rules != nil {
		rules = make([]Rule, 0, len(f.Rules))
		for i, d := range f.Rules {
			if d.Name == "" {
				return nil, errors.Errorf("rule #%d has no name", i)
			}
			re, err := compile(d.Detect)
			if err != nil {
				return nil, errors.Wrapf(err, "rule %s", d.Name)
			}
			rules = append(rules, Rule{
				Name:        d.Name,
				Detect:      re,
				TargetLabel: d.TargetLabel,
				QueryLabel:  d.QueryLabel,
				SortLabel:   d.SortLabel,
			})
		}
	}

	ignores := DefaultIgnoreRules()
	if f.IgnoreRules != nil {
		ignores = make([]IgnoreRule, 0, len(f.IgnoreRules))
		for i, d := range f.IgnoreRules {
			re, err := compile(d.Detect)
			if err != nil {
				return nil, errors.Wrapf(err, "ignore rule #%d", i)
			}
			ignores = append(ignores, IgnoreRule{Detect: re})
		}
	}

	values := DefaultValueRules()
	if f.ValueRules != nil {
		values = make([]ValueRule, 0, len(f.ValueRules))
		for i, d := range f.ValueRules {
			re, err := compile(d.Detect)
			if err != nil {
				return nil, errors.Wrapf(err, "value rule #%d", i)
			}
			values = append(values, ValueRule{Detect: re, Replacement: d.Replacement, Keep: d.Keep})
		}
	}

	return NewCatalog(rules, ignores, values), nil
}

func compile(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, errors.New("empty detect pattern")
	}
	return regexp.Compile(expr)
}
