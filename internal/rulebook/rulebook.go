// Package rulebook loads foundational veredicts from YAML and syncs them
// into the rule store.
package rulebook

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/pachai/internal/governance"
)

//go:embed default_rules.yaml
var defaultRules []byte

type file struct {
	Veredicts []entry `yaml:"veredicts"`
}

// entry mirrors governance.FoundationalVeredict with an optional is_active so
// an override may omit it.
type entry struct {
	Code             string           `yaml:"code"`
	Title            string           `yaml:"title"`
	RuleText         string           `yaml:"rule_text"`
	EnforcementScope governance.Phase `yaml:"enforcement_scope"`
	Priority         *int             `yaml:"priority"`
	IsActive         *bool            `yaml:"is_active"`
}

// Defaults returns the embedded rule set.
func Defaults() ([]governance.FoundationalVeredict, error) {
	var f file
	if err := yaml.Unmarshal(defaultRules, &f); err != nil {
		return nil, fmt.Errorf("parsing embedded rules: %w", err)
	}
	return merge(nil, f.Veredicts)
}

// Load returns the embedded defaults with the user file at path merged over
// them by code. Empty path or a missing file returns the defaults. Invalid
// YAML returns an error.
func Load(path string) ([]governance.FoundationalVeredict, error) {
	base, err := Defaults()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return Parse(base, data)
}

// Parse merges the YAML document in data over base.
func Parse(base []governance.FoundationalVeredict, data []byte) ([]governance.FoundationalVeredict, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	return merge(base, f.Veredicts)
}

func merge(base []governance.FoundationalVeredict, entries []entry) ([]governance.FoundationalVeredict, error) {
	byCode := make(map[string]governance.FoundationalVeredict, len(base)+len(entries))
	for _, v := range base {
		byCode[v.Code] = v
	}

	for i, e := range entries {
		code := strings.ToUpper(strings.TrimSpace(e.Code))
		if code == "" {
			return nil, fmt.Errorf("rule %d: code is required", i)
		}
		v, exists := byCode[code]
		if !exists {
			v = governance.FoundationalVeredict{Code: code, IsActive: true}
		}
		if e.Title != "" {
			v.Title = strings.TrimSpace(e.Title)
		}
		if e.RuleText != "" {
			v.RuleText = strings.TrimSpace(e.RuleText)
		}
		if e.EnforcementScope != "" {
			v.EnforcementScope = e.EnforcementScope
		}
		if e.Priority != nil {
			v.Priority = *e.Priority
		}
		if e.IsActive != nil {
			v.IsActive = *e.IsActive
		}

		if !v.EnforcementScope.Valid() {
			return nil, fmt.Errorf("rule %s: invalid enforcement_scope %q", code, v.EnforcementScope)
		}
		if v.Title == "" || v.RuleText == "" {
			return nil, fmt.Errorf("rule %s: title and rule_text are required", code)
		}
		if !governance.KnownCode(code) {
			slog.Warn("rule has no evaluator and will only appear in the prompt section", "code", code)
		}
		byCode[code] = v
	}

	out := make([]governance.FoundationalVeredict, 0, len(byCode))
	for _, v := range byCode {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnforcementScope != out[j].EnforcementScope {
			return out[i].EnforcementScope < out[j].EnforcementScope
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// SyncStore persists a rule set. Rules whose content changed get a new
// version and their previous revision archived. Implemented by storage.Store.
type SyncStore interface {
	SyncFoundationalVeredicts(ctx context.Context, rules []governance.FoundationalVeredict) (inserted, updated int, err error)
}

// Report summarizes a sync.
type Report struct {
	Total    int `json:"total"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Sync loads the rule set for path and writes it to the store.
func Sync(ctx context.Context, store SyncStore, path string) (Report, error) {
	rules, err := Load(path)
	if err != nil {
		return Report{}, err
	}
	inserted, updated, err := store.SyncFoundationalVeredicts(ctx, rules)
	if err != nil {
		return Report{}, fmt.Errorf("syncing foundational veredicts: %w", err)
	}
	return Report{Total: len(rules), Inserted: inserted, Updated: updated}, nil
}
