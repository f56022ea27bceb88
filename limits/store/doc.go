/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package store provides read adapters for rate limiting configuration entities
// (global and class defaults, identity overrides, endpoint rules).
//
// Supported backends are an in-memory rule set, a YAML file that is reloaded on change,
// SQLite (modernc.org/sqlite, no cgo) and PostgreSQL (pgx). SQL backends also implement Writer,
// which replaces the stored rule set in one transaction.
package store
