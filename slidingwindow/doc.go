/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package slidingwindow implements an exact sliding-log rate limiter.
//
// For every key the limiter keeps the monotonic timestamps of admitted events in a queue.
// A check drops the timestamps that left the trailing window and admits the event only if
// fewer than the allowed number of events remain. Rejected events are never recorded,
// so retrying after a rejection costs nothing.
//
// Keys are spread over independently locked shards. Each shard is an LRU cache with
// inactivity-based expiration: idle windows are collected by a periodic cleanup and,
// when the number of keys exceeds the configured capacity, the least recently used
// keys are evicted and counted by metrics.
package slidingwindow
