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

// Package vacation defines the leave document the FactorialHR extractor
// writes and the leave sync consumes.
package vacation

// DefaultFile is the blob the document is exchanged through.
const DefaultFile = "vacation.json"

// An Entry is one person's leave window. The leave type is already the
// target-side day type name; the extractor translates source names before
// writing the document.
type Entry struct {
	Email     string `json:"email"`
	StartOn   string `json:"start_on"`
	FinishOn  string `json:"finish_on"`
	LeaveType string `json:"tc_leave_type"`
}

// Complete reports whether the entry names a person, a window, and a
// leave type. Incomplete entries are skipped by the leave sync.
func (e Entry) Complete() bool {
	return e.Email != "" && e.StartOn != "" && e.FinishOn != "" && e.LeaveType != ""
}

// A Document is the extractor handoff for leave windows.
type Document struct {
	Vacation []Entry `json:"vacation"`
}
