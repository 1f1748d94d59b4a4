/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package taskrunner composes the ttlcache, taskqueue and retry packages into
// a single facade for executing expensive, failure-prone operations.
//
// A Runner deduplicates concurrent requests per key, bounds how many operations
// run at once, retries transient failures with exponential backoff and caches
// successful results with a TTL. It can be constructed programmatically with New
// or from a loaded configuration with NewFromConfig.
package taskrunner
