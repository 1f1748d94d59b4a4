/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ttlcache provides an in-memory cache with per-entry expiration,
// single-flight deduplication of concurrent computations, optional LRU eviction,
// and Prometheus metrics.
package ttlcache
