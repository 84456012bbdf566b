// Package lock implements single-resource edit leases. A Store holds at most
// one lease per resource id; a Manager grants, renews, releases and expires
// leases over it and reports every transition to a Publisher.
//
// Contention is first-claim-wins: a competing acquire fails immediately with
// an *AlreadyHeldError, there is no wait queue. Lapsed leases are treated as
// absent by every operation and removed either lazily or by the background
// sweep, with exactly one lock-expired event per lease.
package lock
