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

package names

import (
	"regexp"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
)

const (
	// ruleSeparator joins independent rewrite rules.
	ruleSeparator = ";;;"

	// patternSeparator splits a rule into its pattern and replacement.
	patternSeparator = "|||"
)

// A RewriteRule rewrites group paths that match a pattern.
type RewriteRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// RewriteRules is an ordered rewrite pipeline for group paths.
type RewriteRules []RewriteRule

// ParseRewriteRules parses a "pattern|||replacement" list joined by ";;;".
// Rules that are empty, lack the separator, or carry a pattern that does
// not compile are logged and skipped; a bad rule never fails the run.
func ParseRewriteRules(raw string, log logging.Logger) RewriteRules {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var rules RewriteRules
	for _, entry := range strings.Split(raw, ruleSeparator) {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		pattern, replacement, found := strings.Cut(entry, patternSeparator)
		if !found {
			log.Info("Skipping group rewrite rule without separator", "rule", entry)
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Info("Skipping group rewrite rule with invalid pattern", "pattern", pattern, "error", err)
			continue
		}
		rules = append(rules, RewriteRule{pattern: re, replacement: replacement})
	}
	return rules
}

// Apply runs every rule in order against the supplied path. Rules cascade:
// a later rule sees the output of an earlier one. The result is
// re-normalised because an empty replacement may collapse segments.
func (rs RewriteRules) Apply(path string) string {
	if len(rs) == 0 {
		return path
	}
	for _, r := range rs {
		path = r.pattern.ReplaceAllString(path, r.replacement)
	}
	return CleanPath(path)
}
