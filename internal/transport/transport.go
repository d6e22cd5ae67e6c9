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

// Package transport contains HTTP transport utilities shared by the target
// client and the source extractors.
package transport

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/orgsync/orgsync/internal/version"
)

// DefaultUserAgent is the User-Agent header set on every request issued by
// this process.
var DefaultUserAgent = fmt.Sprintf("%s/%s", "orgsync", version.New().GetVersionString())

// UserAgent wraps a RoundTripper and injects a user agent header.
type UserAgent struct {
	rt        http.RoundTripper
	userAgent string
}

// NewUserAgent constructs a new UserAgent transport.
func NewUserAgent(rt http.RoundTripper, userAgent string) *UserAgent {
	return &UserAgent{
		rt:        rt,
		userAgent: userAgent,
	}
}

// RoundTrip injects a User-Agent header into every request.
func (u *UserAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", u.userAgent)
	return u.rt.RoundTrip(req)
}

// NewClient returns an HTTP client that identifies itself as orgsync.
// TLS verification is optionally disabled for staging targets that present
// self-signed certificates.
func NewClient(sslVerify bool) *http.Client {
	rt := http.DefaultTransport
	if !sslVerify {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Opt-in knob for staging targets.
		rt = t
	}
	return &http.Client{Transport: NewUserAgent(rt, DefaultUserAgent)}
}
