// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intake

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

type keywordSpec struct {
	Match string `yaml:"match"`
	Value string `yaml:"value"`
}

type ruleSpec struct {
	Regex      string        `yaml:"regex"`
	Output     string        `yaml:"output"`
	Keywords   []keywordSpec `yaml:"keywords"`
	SingleWord bool          `yaml:"single_word"`
	Verbatim   bool          `yaml:"verbatim"`
	Transform  string        `yaml:"transform"`
}

type fieldSpec struct {
	Field    datatypes.ProfileField `yaml:"field"`
	Question string                 `yaml:"question"`
	Rules    []ruleSpec             `yaml:"rules"`
}

type rulesFile struct {
	AckPrefix         string      `yaml:"ack_prefix"`
	RetryPrefix       string      `yaml:"retry_prefix"`
	SaveFailurePrefix string      `yaml:"save_failure_prefix"`
	Completion        string      `yaml:"completion"`
	AlreadyComplete   string      `yaml:"already_complete"`
	Fields            []fieldSpec `yaml:"fields"`
}

// extractor pulls one value out of an answer, reporting success.
type extractor func(text string) (string, bool)

// Rules is the compiled intake script: one question and an ordered list of
// extractors per profile field.
type Rules struct {
	AckPrefix         string
	RetryPrefix       string
	SaveFailurePrefix string
	Completion        string
	AlreadyComplete   string

	order      []datatypes.ProfileField
	questions  map[datatypes.ProfileField]string
	extractors map[datatypes.ProfileField][]extractor
}

// DefaultRules compiles the embedded rule file.
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRulesYAML)
}

// ParseRules compiles a YAML rule file. Every regex must compile, every
// field must have a question and at least one rule, and the fields must
// follow datatypes.IntakeOrder exactly.
func ParseRules(data []byte) (*Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse intake rules: %w", err)
	}
	if len(f.Fields) != len(datatypes.IntakeOrder) {
		return nil, fmt.Errorf("intake rules define %d fields, want %d", len(f.Fields), len(datatypes.IntakeOrder))
	}

	r := &Rules{
		AckPrefix:         f.AckPrefix,
		RetryPrefix:       f.RetryPrefix,
		SaveFailurePrefix: f.SaveFailurePrefix,
		Completion:        f.Completion,
		AlreadyComplete:   f.AlreadyComplete,
		questions:         make(map[datatypes.ProfileField]string),
		extractors:        make(map[datatypes.ProfileField][]extractor),
	}
	for i, fs := range f.Fields {
		if fs.Field != datatypes.IntakeOrder[i] {
			return nil, fmt.Errorf("intake rule %d is %q, want %q", i, fs.Field, datatypes.IntakeOrder[i])
		}
		if strings.TrimSpace(fs.Question) == "" {
			return nil, fmt.Errorf("intake field %q has no question", fs.Field)
		}
		if len(fs.Rules) == 0 {
			return nil, fmt.Errorf("intake field %q has no rules", fs.Field)
		}
		for j, rs := range fs.Rules {
			ex, err := compileRule(rs)
			if err != nil {
				return nil, fmt.Errorf("intake field %q rule %d: %w", fs.Field, j, err)
			}
			r.extractors[fs.Field] = append(r.extractors[fs.Field], ex)
		}
		r.order = append(r.order, fs.Field)
		r.questions[fs.Field] = fs.Question
	}
	return r, nil
}

// Question returns the prompt for field.
func (r *Rules) Question(field datatypes.ProfileField) string {
	return r.questions[field]
}

// Extract runs field's rules against text in order.
func (r *Rules) Extract(field datatypes.ProfileField, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	for _, ex := range r.extractors[field] {
		if v, ok := ex(text); ok {
			return v, true
		}
	}
	return "", false
}

func compileRule(rs ruleSpec) (extractor, error) {
	transform, err := transformFor(rs.Transform)
	if err != nil {
		return nil, err
	}
	finish := func(v string) (string, bool) {
		v = strings.TrimSpace(transform(v))
		return v, v != ""
	}

	switch {
	case rs.Regex != "":
		re, err := regexp.Compile(rs.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", rs.Regex, err)
		}
		output := rs.Output
		if output == "" {
			output = "$1"
		}
		return func(text string) (string, bool) {
			m := re.FindStringSubmatchIndex(text)
			if m == nil {
				return "", false
			}
			return finish(string(re.ExpandString(nil, output, text, m)))
		}, nil

	case len(rs.Keywords) > 0:
		type kw struct {
			re    *regexp.Regexp
			value string
		}
		kws := make([]kw, 0, len(rs.Keywords))
		for _, k := range rs.Keywords {
			kws = append(kws, kw{
				re:    regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(k.Match) + `\b`),
				value: k.Value,
			})
		}
		return func(text string) (string, bool) {
			for _, k := range kws {
				if k.re.MatchString(text) {
					return finish(k.value)
				}
			}
			return "", false
		}, nil

	case rs.SingleWord:
		return func(text string) (string, bool) {
			if !isSingleWord(text) {
				return "", false
			}
			return finish(text)
		}, nil

	case rs.Verbatim:
		return finish, nil
	}
	return nil, fmt.Errorf("rule has no regex, keywords, single_word or verbatim")
}

func isSingleWord(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range text {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func transformFor(name string) (func(string) string, error) {
	switch name {
	case "":
		return func(s string) string { return s }, nil
	case "capitalize":
		return capitalize, nil
	case "lower":
		return strings.ToLower, nil
	case "upper":
		return strings.ToUpper, nil
	}
	return nil, fmt.Errorf("unknown transform %q", name)
}

func capitalize(s string) string {
	rs := []rune(strings.ToLower(s))
	if len(rs) == 0 {
		return s
	}
	rs[0] = unicode.ToUpper(rs[0])
	return string(rs)
}
