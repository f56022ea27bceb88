/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil contains assertions and helpers shared by tests of HTTP handlers, metrics and servers.
package testutil

type tHelper interface {
	Helper()
}
