/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limits

import (
	"path"
	"strings"
)

// Default class names.
const (
	DefaultAnonymousClass = "anonymous"
	DefaultIdentityClass  = "standard"
)

// Subject is the party whose requests are counted.
type Subject struct {
	// Identity is the authenticated identity. Empty for anonymous requests.
	Identity string
	// Class is the identity class.
	Class string
	// Address is the normalized client address. It keys anonymous subjects.
	Address string
}

// IsAnonymous reports whether the subject has no authenticated identity.
func (s Subject) IsAnonymous() bool {
	return s.Identity == ""
}

// Key returns the string under which requests of the subject are counted.
func (s Subject) Key() string {
	if s.IsAnonymous() {
		return "addr:" + s.Address
	}
	return "id:" + s.Identity
}

// Endpoint is the target of a request.
type Endpoint struct {
	Method string
	Path   string
}

// NewEndpoint returns an Endpoint with the method in upper case and the path normalized.
func NewEndpoint(method, urlPath string) Endpoint {
	return Endpoint{Method: strings.ToUpper(method), Path: NormalizePath(urlPath)}
}

func (e Endpoint) String() string {
	return e.Method + " " + e.Path
}

// NormalizePath normalizes URL path (i.e. for example, it converts /foo///bar/.. to /foo).
// A trailing slash is kept.
func NormalizePath(urlPath string) string {
	res := path.Clean("/" + urlPath)
	if strings.HasSuffix(urlPath, "/") && res != "/" {
		res += "/"
	}
	return res
}
