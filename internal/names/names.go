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

// Package names implements the name and path normalisation rules shared by
// the organisation modeller and the reconcilers. The target API rejects a
// handful of glyphs in display and group names, so scrubbing them is a
// correctness requirement rather than a cosmetic one.
package names

import (
	"strings"
)

// scrubber removes the characters the target API rejects. Straight quotes
// and apostrophes are accepted by the API and therefore preserved.
var scrubber = strings.NewReplacer(
	"(", "",
	")", "",
	"[", "",
	"]", "",
	"{", "",
	"}", "",
	"`", "",
	"´", "",
	"“", "", // “
	"”", "", // ”
	"_", "",
)

// Clean scrubs rejected characters from a display or group name and trims
// surrounding whitespace. Clean is idempotent.
func Clean(s string) string {
	return strings.TrimSpace(scrubber.Replace(s))
}

// CleanPath normalises a slash separated group path: each segment is
// trimmed, empty segments are dropped, and the remainder re-joined.
// CleanPath is idempotent.
func CleanPath(path string) string {
	if path == "" {
		return ""
	}
	parts := strings.Split(path, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// StripPrefixes removes the first matching configured prefix from the
// supplied path. Prefixes are comma separated and may themselves span
// several path components. A prefix matches only on whole leading
// components: "Eng" strips "Eng/Web" but never "Engineering/Web". A path
// equal to a prefix collapses to "".
func StripPrefixes(path, prefixes string) string {
	if path == "" || strings.TrimSpace(prefixes) == "" {
		return path
	}

	parts := strings.Split(path, "/")
	for _, prefix := range strings.Split(prefixes, ",") {
		prefix = CleanPath(prefix)
		if prefix == "" {
			continue
		}
		if path == prefix {
			return ""
		}
		skip := strings.Split(prefix, "/")
		if len(parts) < len(skip) {
			continue
		}
		matched := true
		for i := range skip {
			if parts[i] != skip[i] {
				matched = false
				break
			}
		}
		if matched {
			return strings.Join(parts[len(skip):], "/")
		}
	}
	return path
}

// ReplaceEmailDomain swaps the portion after the final "@" of an email for
// the supplied domain. The domain is accepted with or without a leading
// "@". Strings without an "@" are returned unchanged, as are calls with an
// empty domain. ReplaceEmailDomain is idempotent for a fixed domain.
func ReplaceEmailDomain(email, domain string) string {
	if email == "" || domain == "" {
		return email
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.TrimPrefix(domain, "@")
}

// Format captures the name formatting knobs of the configuration profile.
// The modeller holds two of these: one for display names, one for
// supervisor group labels, because the two are configured independently.
type Format struct {
	// UseJobTitle renders names as "<Job Title> [<Name>]" when a job
	// title is present.
	UseJobTitle bool

	// ShowExternalID appends " - <external_id>" to the rendered name.
	ShowExternalID bool
}

// FormatDisplayName renders a user's display name per the supplied format,
// scrubbed of rejected characters.
func FormatDisplayName(name, jobTitle, externalID string, f Format) string {
	base := name
	if f.UseJobTitle && jobTitle != "" {
		base = jobTitle + " [" + name + "]"
	}
	if f.ShowExternalID && externalID != "" {
		base = base + " - " + externalID
	}
	return Clean(base)
}

// FormatGroupName renders the group label derived from a supervisor. The
// supplied name may already carry the "<Job Title> [<Name>]" display form,
// in which case the bare name is recovered first so the group knobs apply
// to it independently of the user-name knobs.
func FormatGroupName(name, jobTitle, externalID string, f Format) string {
	base := BareName(name)
	if f.UseJobTitle && jobTitle != "" {
		base = jobTitle + " [" + base + "]"
	}
	if f.ShowExternalID && externalID != "" {
		base = base + " - " + externalID
	}
	return Clean(base)
}

// BareName recovers the person's name from an already formatted
// "<Job Title> [<Name>]" string. Unformatted names pass through unchanged.
func BareName(name string) string {
	if !strings.HasSuffix(name, "]") {
		return name
	}
	i := strings.LastIndex(name, " [")
	if i <= 0 {
		return name
	}
	return name[i+2 : len(name)-1]
}
