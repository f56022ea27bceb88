/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package lrucache provides a generic in-memory LRU cache with absolute or sliding expiration,
// eviction callbacks and Prometheus metrics.
package lrucache
