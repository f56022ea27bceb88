/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package stats aggregates admission decisions into counters.
// Recording never blocks the request path: recorders only update in-memory counters,
// RedisRecorder pushes them to Redis from a background worker.
//
// Redis layout used by RedisRecorder:
//
//	<prefix>:total                  hash  allowed, denied, degraded
//	<prefix>:minute:<YYYYMMDDhhmm>  hash  allowed, denied (expires after TTL)
//	<prefix>:endpoint               hash  <endpoint>:<limit type>:<result>
package stats
