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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClean(t *testing.T) {
	cases := map[string]struct {
		reason string
		s      string
		want   string
	}{
		"RemovesBracketsAndBraces": {
			reason: "Parentheses, brackets and braces should be removed.",
			s:      "John (Johnny) [Smith] {Dev}",
			want:   "John Johnny Smith Dev",
		},
		"RemovesBacktickFamily": {
			reason: "Back-ticks, acute accents and curly quotes should be removed.",
			s:      "Jo`hn´ “Smith”",
			want:   "John Smith",
		},
		"RemovesUnderscore": {
			reason: "Underscores should be removed.",
			s:      "team_lead",
			want:   "teamlead",
		},
		"PreservesStraightQuotes": {
			reason: "Straight quotes and apostrophes are accepted by the API and kept.",
			s:      `Jan "Honza" O'Neill`,
			want:   `Jan "Honza" O'Neill`,
		},
		"PreservesNonASCII": {
			reason: "Non-ASCII letters must survive scrubbing.",
			s:      "Łukasz Żółć",
			want:   "Łukasz Żółć",
		},
		"Trims": {
			reason: "Surrounding whitespace should be trimmed.",
			s:      "  Maria  ",
			want:   "Maria",
		},
		"Empty": {
			reason: "An empty string stays empty.",
			s:      "",
			want:   "",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := Clean(tc.s)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nClean(%q): -want, +got:\n%s", tc.reason, tc.s, diff)
			}
			if diff := cmp.Diff(got, Clean(got)); diff != "" {
				t.Errorf("\n%s\nClean(...) is not idempotent:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestCleanPath(t *testing.T) {
	cases := map[string]struct {
		reason string
		path   string
		want   string
	}{
		"DropsEmptySegments": {
			reason: "Duplicate and trailing slashes should collapse.",
			path:   "Engineering//Team A/",
			want:   "Engineering/Team A",
		},
		"TrimsSegments": {
			reason: "Each segment should be trimmed independently.",
			path:   " Engineering / Team A ",
			want:   "Engineering/Team A",
		},
		"Empty": {
			reason: "An empty path stays empty.",
			path:   "",
			want:   "",
		},
		"SlashesOnly": {
			reason: "A path of slashes collapses to the empty path.",
			path:   "///",
			want:   "",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := CleanPath(tc.path)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nCleanPath(%q): -want, +got:\n%s", tc.reason, tc.path, diff)
			}
			if diff := cmp.Diff(got, CleanPath(got)); diff != "" {
				t.Errorf("\n%s\nCleanPath(...) is not idempotent:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestStripPrefixes(t *testing.T) {
	type args struct {
		path     string
		prefixes string
	}
	cases := map[string]struct {
		reason string
		args   args
		want   string
	}{
		"SingleComponent": {
			reason: "A one component prefix should strip the leading component.",
			args:   args{path: "Company/Engineering/Team A", prefixes: "Company"},
			want:   "Engineering/Team A",
		},
		"MultiComponent": {
			reason: "A multi component prefix should strip all its components.",
			args:   args{path: "Company/Division/Engineering", prefixes: "Company/Division"},
			want:   "Engineering",
		},
		"ExactMatchCollapses": {
			reason: "A path equal to a prefix should collapse to the empty path.",
			args:   args{path: "Company", prefixes: "Company"},
			want:   "",
		},
		"FirstMatchWins": {
			reason: "Only the first matching prefix of the list is applied.",
			args:   args{path: "Org2/Sales", prefixes: "Org1,Org2"},
			want:   "Sales",
		},
		"NoPartialComponentMatch": {
			reason: "A prefix must match whole components, never substrings.",
			args:   args{path: "Engineering/Team A", prefixes: "Eng"},
			want:   "Engineering/Team A",
		},
		"NoMatch": {
			reason: "A non-matching prefix should leave the path alone.",
			args:   args{path: "Company/Engineering", prefixes: "OtherCompany"},
			want:   "Company/Engineering",
		},
		"EmptyPrefixes": {
			reason: "An empty prefix list should leave the path alone.",
			args:   args{path: "Company/Engineering", prefixes: ""},
			want:   "Company/Engineering",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := StripPrefixes(tc.args.path, tc.args.prefixes)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nStripPrefixes(%q, %q): -want, +got:\n%s", tc.reason, tc.args.path, tc.args.prefixes, diff)
			}
		})
	}
}

func TestReplaceEmailDomain(t *testing.T) {
	type args struct {
		email  string
		domain string
	}
	cases := map[string]struct {
		reason string
		args   args
		want   string
	}{
		"Replaces": {
			reason: "The domain after the @ should be swapped.",
			args:   args{email: "jan@corp.example.com", domain: "tracker.example.com"},
			want:   "jan@tracker.example.com",
		},
		"LeadingAtTolerated": {
			reason: "A configured domain with a leading @ should work identically.",
			args:   args{email: "jan@corp.example.com", domain: "@tracker.example.com"},
			want:   "jan@tracker.example.com",
		},
		"NonEmailUnchanged": {
			reason: "A string without an @ should pass through unchanged.",
			args:   args{email: "not-an-email", domain: "tracker.example.com"},
			want:   "not-an-email",
		},
		"EmptyDomainUnchanged": {
			reason: "An empty domain disables replacement.",
			args:   args{email: "jan@corp.example.com", domain: ""},
			want:   "jan@corp.example.com",
		},
		"Idempotent": {
			reason: "Replacing an already replaced domain is a no-op.",
			args:   args{email: "jan@tracker.example.com", domain: "tracker.example.com"},
			want:   "jan@tracker.example.com",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := ReplaceEmailDomain(tc.args.email, tc.args.domain)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nReplaceEmailDomain(%q, %q): -want, +got:\n%s", tc.reason, tc.args.email, tc.args.domain, diff)
			}
		})
	}
}

func TestFormatDisplayName(t *testing.T) {
	type args struct {
		name       string
		jobTitle   string
		externalID string
		f          Format
	}
	cases := map[string]struct {
		reason string
		args   args
		want   string
	}{
		"Plain": {
			reason: "Without knobs the bare cleaned name is returned.",
			args:   args{name: "Jan Kowalski"},
			want:   "Jan Kowalski",
		},
		"JobTitle": {
			reason: "The job title form wraps the name in brackets.",
			args:   args{name: "Jan Kowalski", jobTitle: "Sales Manager", f: Format{UseJobTitle: true}},
			want:   "Sales Manager Jan Kowalski",
		},
		"JobTitleMissing": {
			reason: "A missing job title falls back to the bare name.",
			args:   args{name: "Jan Kowalski", f: Format{UseJobTitle: true}},
			want:   "Jan Kowalski",
		},
		"ExternalID": {
			reason: "The external id suffix is appended when configured.",
			args:   args{name: "Jan Kowalski", externalID: "E42", f: Format{ShowExternalID: true}},
			want:   "Jan Kowalski - E42",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := FormatDisplayName(tc.args.name, tc.args.jobTitle, tc.args.externalID, tc.args.f)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nFormatDisplayName(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestFormatGroupName(t *testing.T) {
	type args struct {
		name       string
		jobTitle   string
		externalID string
		f          Format
	}
	cases := map[string]struct {
		reason string
		args   args
		want   string
	}{
		"RecoversBareName": {
			reason: "An already formatted display name should be unwrapped before the group knobs apply.",
			args:   args{name: "Sales Manager [Anna Nowak]", jobTitle: "Sales Manager", f: Format{}},
			want:   "Anna Nowak",
		},
		"GroupJobTitleIndependent": {
			reason: "The group job-title knob applies even when the display knob produced a bare name.",
			args:   args{name: "Anna Nowak", jobTitle: "Sales Manager", f: Format{UseJobTitle: true}},
			want:   "Sales Manager Anna Nowak",
		},
		"ExternalIDSuffix": {
			reason: "The external id suffix applies to group labels too.",
			args:   args{name: "Anna Nowak", externalID: "77", f: Format{ShowExternalID: true}},
			want:   "Anna Nowak - 77",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := FormatGroupName(tc.args.name, tc.args.jobTitle, tc.args.externalID, tc.args.f)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nFormatGroupName(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestBareName(t *testing.T) {
	cases := map[string]struct {
		reason string
		name   string
		want   string
	}{
		"Formatted": {
			reason: "The bracketed name should be recovered.",
			name:   "Sales Manager [Anna Nowak]",
			want:   "Anna Nowak",
		},
		"Unformatted": {
			reason: "A plain name passes through.",
			name:   "Anna Nowak",
			want:   "Anna Nowak",
		},
		"SuffixOnly": {
			reason: "A trailing bracket without the separator is not unwrapped.",
			name:   "[Anna]",
			want:   "[Anna]",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, BareName(tc.name)); diff != "" {
				t.Errorf("\n%s\nBareName(%q): -want, +got:\n%s", tc.reason, tc.name, diff)
			}
		})
	}
}
