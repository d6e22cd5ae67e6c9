/*
Copyright 2025 The OrgSync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package transform rewrites roster records before modelling. A transform
// spec pairs a filter over the record with replacement actions on dotted
// property paths, so source quirks can be patched in configuration
// instead of code.
package transform

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"

	"github.com/orgsync/orgsync/internal/xerrors"
)

// ActionReplaceAll replaces a property's value wherever the filter
// matches. It is the only action currently understood.
const ActionReplaceAll = "replace_all"

// Error strings.
const (
	errParseSpec     = "cannot parse transform config"
	errFmtReadSpec   = "cannot read transform config file %q"
	errFmtAbsentSpec = "transform config file %q does not exist"
)

// A StringMatch matches a stringified property value. Exactly one
// operator is consulted, in the order the fields are declared.
type StringMatch struct {
	Equals     *string `json:"equals,omitempty"`
	StartsWith *string `json:"starts_with,omitempty"`
	EndsWith   *string `json:"ends_with,omitempty"`
	Contains   *string `json:"contains,omitempty"`
}

// A Filter selects records. And/Or nest arbitrarily; a leaf names a
// property and a string match.
type Filter struct {
	And []Filter `json:"and,omitempty"`
	Or  []Filter `json:"or,omitempty"`

	Property string       `json:"property,omitempty"`
	String   *StringMatch `json:"string,omitempty"`
}

// An Action mutates a property of a matched record.
type Action struct {
	Property string `json:"property"`
	Action   string `json:"action"`
	Value    any    `json:"value"`
}

// A Spec is one filter with its actions.
type Spec struct {
	Filter    *Filter  `json:"filter,omitempty"`
	Transform []Action `json:"transform,omitempty"`
}

// An Engine applies parsed specs to roster records. A nil engine applies
// nothing.
type Engine struct {
	specs []Spec
	log   logging.Logger
}

// Load reads the transform configuration from its configured value: the
// empty string means no transforms, a value starting with "{" or "[" is
// parsed inline, anything else is a path on the supplied filesystem.
// Both JSON and YAML are accepted. A malformed config is a Config error.
func Load(raw string, fs afero.Fs, log logging.Logger) (*Engine, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	data := []byte(raw)
	if !strings.HasPrefix(raw, "{") && !strings.HasPrefix(raw, "[") {
		ok, err := afero.Exists(fs, raw)
		if err != nil {
			return nil, errors.Wrapf(err, errFmtReadSpec, raw)
		}
		if !ok {
			return nil, xerrors.Newf(xerrors.Config, errFmtAbsentSpec, raw)
		}
		if data, err = afero.ReadFile(fs, raw); err != nil {
			return nil, errors.Wrapf(err, errFmtReadSpec, raw)
		}
	}

	specs, err := parse(data)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.Config, errParseSpec)
	}

	for _, s := range specs {
		for _, a := range s.Transform {
			if a.Action != ActionReplaceAll {
				log.Info("Ignoring unsupported transform action", "action", a.Action, "property", a.Property)
			}
		}
	}

	return &Engine{specs: specs, log: log}, nil
}

// parse accepts a single spec document or a list of them.
func parse(data []byte) ([]Spec, error) {
	j, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, err
	}

	if bytes.HasPrefix(bytes.TrimSpace(j), []byte("[")) {
		var specs []Spec
		return specs, yaml.Unmarshal(data, &specs)
	}

	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	return []Spec{spec}, nil
}

// Apply runs every spec against the supplied JSON-like value. Lists are
// transformed element-wise; values that are not objects pass through.
// The input is never mutated; the second return reports whether anything
// changed.
func (e *Engine) Apply(data any) (any, bool) {
	if e == nil || len(e.specs) == 0 {
		return data, false
	}

	if list, ok := data.([]any); ok {
		out := make([]any, len(list))
		changed := false
		for i, item := range list {
			var c bool
			out[i], c = e.Apply(item)
			changed = changed || c
		}
		return out, changed
	}

	record, ok := data.(map[string]any)
	if !ok {
		return data, false
	}

	out := any(record)
	changed := false
	for _, spec := range e.specs {
		var c bool
		out, c = applySpec(out.(map[string]any), spec)
		changed = changed || c
	}
	return out, changed
}

func applySpec(record map[string]any, spec Spec) (map[string]any, bool) {
	if !matchesFilter(record, spec.Filter) {
		return record, false
	}

	out := deepCopy(record).(map[string]any)
	changed := false
	for _, a := range spec.Transform {
		if a.Action != ActionReplaceAll || a.Property == "" {
			continue
		}
		current := getValue(out, a.Property)
		if reflect.DeepEqual(current, a.Value) {
			continue
		}
		if setValue(out, a.Property, a.Value) {
			changed = true
		}
	}
	return out, changed
}

func matchesFilter(record map[string]any, f *Filter) bool {
	if f == nil {
		return true
	}

	if f.And != nil {
		for _, rule := range f.And {
			if !matchesFilter(record, &rule) {
				return false
			}
		}
		return true
	}

	if f.Or != nil {
		for _, rule := range f.Or {
			if matchesFilter(record, &rule) {
				return true
			}
		}
		return false
	}

	if f.Property == "" || f.String == nil {
		return false
	}

	v := getValue(record, f.Property)
	if v == nil {
		return false
	}
	value := stringify(v)

	switch m := f.String; {
	case m.Equals != nil:
		return value == *m.Equals
	case m.StartsWith != nil:
		return strings.HasPrefix(value, *m.StartsWith)
	case m.EndsWith != nil:
		return strings.HasSuffix(value, *m.EndsWith)
	case m.Contains != nil:
		return strings.Contains(value, *m.Contains)
	}
	return false
}

// stringify renders a property value for matching the way it appears in
// JSON, so numeric and boolean properties can be matched as text.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func splitPath(path string) []string {
	parts := []string{}
	for _, p := range strings.Split(path, ".") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func toIndex(part string) (int, bool) {
	for _, r := range part {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	i, err := strconv.Atoi(part)
	return i, err == nil
}

// getValue walks a dotted path through maps and, for all-digit segments,
// list indices. A missing step yields nil.
func getValue(data any, path string) any {
	current := data
	for _, part := range splitPath(path) {
		switch t := current.(type) {
		case map[string]any:
			v, ok := t[part]
			if !ok {
				return nil
			}
			current = v
		case []any:
			i, ok := toIndex(part)
			if !ok || i >= len(t) {
				return nil
			}
			current = t[i]
		default:
			return nil
		}
	}
	return current
}

// setValue writes a dotted path, creating intermediate objects on map
// steps. List steps never grow: an out of range index fails the write.
func setValue(data any, path string, value any) bool {
	parts := splitPath(path)
	if len(parts) == 0 {
		return false
	}

	current := data
	for _, part := range parts[:len(parts)-1] {
		switch t := current.(type) {
		case map[string]any:
			next, ok := t[part]
			if !ok || !isContainer(next) {
				next = map[string]any{}
				t[part] = next
			}
			current = next
		case []any:
			i, ok := toIndex(part)
			if !ok || i >= len(t) {
				return false
			}
			if !isContainer(t[i]) {
				t[i] = map[string]any{}
			}
			current = t[i]
		default:
			return false
		}
	}

	last := parts[len(parts)-1]
	switch t := current.(type) {
	case map[string]any:
		t[last] = value
		return true
	case []any:
		i, ok := toIndex(last)
		if !ok || i >= len(t) {
			return false
		}
		t[i] = value
		return true
	}
	return false
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopy(vv)
		}
		return out
	default:
		return v
	}
}
