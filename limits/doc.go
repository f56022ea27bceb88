/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package limits resolves persisted rate limit configuration into effective numeric limits.
//
// Configuration consists of global and identity-class defaults, identity overrides and endpoint rules.
// Identity dimensions are merged one by one with the precedence identity override > class default >
// global default > built-in fallback, so an override specifying only requests per minute inherits
// the rest. The matched endpoint rule can only tighten the result: every dimension takes the most
// restrictive value, the burst count and window being compared as one rate.
//
// Service caches resolved limits per (class, identity, endpoint). When the configuration store fails
// or times out, the last known good value is served; if there is none, the built-in fallback is.
package limits
