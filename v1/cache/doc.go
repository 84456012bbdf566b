// Package cache provides the read-through snapshot cache in front of the
// record store. Entries are dropped by TTL or explicit invalidation; the
// store stays the source of truth.
package cache
